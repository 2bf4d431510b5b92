package unlock

import (
	"reflect"
	"testing"
	"time"
)

// baseUnlocked matches a four-npc starting roster.
const baseUnlocked = 4

func set(indices ...int) map[int]bool {
	out := make(map[int]bool, len(indices))
	for _, i := range indices {
		out[i] = true
	}
	return out
}

func TestComputeUnlocked(t *testing.T) {
	tests := []struct {
		name     string
		healed   int
		size     int
		unlocked map[int]bool
		want     []int
	}{
		{name: "fresh", healed: 0, size: 10, unlocked: nil, want: []int{0, 1, 2, 3}},
		{name: "one heal adds nothing", healed: 1, size: 10, unlocked: set(0, 1, 2, 3), want: nil},
		{name: "two heals add one", healed: 2, size: 10, unlocked: set(0, 1, 2, 3), want: []int{4}},
		{name: "skips already unlocked", healed: 4, size: 10, unlocked: set(0, 1, 2, 3, 5), want: []int{4}},
		{name: "clamped to catalog", healed: 40, size: 6, unlocked: set(0, 1, 2, 3), want: []int{4, 5}},
		{name: "tiny catalog", healed: 0, size: 2, unlocked: nil, want: []int{0, 1}},
		{name: "negative heals", healed: -3, size: 10, unlocked: set(0, 1, 2, 3), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeUnlocked(tt.healed, tt.size, baseUnlocked, tt.unlocked)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeUnlocked_HealThreshold(t *testing.T) {
	const size = 20
	unlocked := map[int]bool{}
	for _, i := range ComputeUnlocked(0, size, baseUnlocked, unlocked) {
		unlocked[i] = true
	}

	for k := 1; k <= 10; k++ {
		for _, i := range ComputeUnlocked(2*k, size, baseUnlocked, unlocked) {
			unlocked[i] = true
		}
		want := baseUnlocked + k
		if want > size {
			want = size
		}
		if len(unlocked) < want {
			t.Fatalf("after %d heals expected at least %d unlocked, got %d", 2*k, want, len(unlocked))
		}
	}
}

func TestDefaultUnlocked(t *testing.T) {
	got := DefaultUnlocked(6, []int{2, 5})
	if !reflect.DeepEqual(got, []int{0, 1, 3, 4}) {
		t.Fatalf("got %v", got)
	}
}

func TestTimeAward(t *testing.T) {
	threshold := 20 * time.Minute
	if TimeAwardDue(19*time.Minute, threshold, false) {
		t.Fatalf("award before threshold")
	}
	if !TimeAwardDue(20*time.Minute, threshold, false) {
		t.Fatalf("expected award at threshold")
	}
	if TimeAwardDue(time.Hour, threshold, true) {
		t.Fatalf("award must fire once")
	}
	if TimeAwardDue(time.Hour, 0, false) {
		t.Fatalf("zero threshold disables award")
	}

	got := TimeAward([]int{7, 8, 9}, set(8))
	if !reflect.DeepEqual(got, []int{7, 9}) {
		t.Fatalf("award indices = %v", got)
	}
}
