package savecode

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"maps"
	"slices"
	"strings"

	"sessioncore/internal/gameerr"
	"sessioncore/internal/progress"
)

// BlobVersion is written into every blob. Decode accepts blobs without it.
// Export codes from version 2 on carry a checksum under sumKey.
const BlobVersion = 2

const (
	sealedVersion = 2
	sumKey        = "sum"
)

// Blob is the persisted save layout shared by autosave slots and export codes.
type Blob struct {
	Version      int                         `json:"version,omitempty"`
	Healed       []int                       `json:"healed"`
	Unlocked     []int                       `json:"unlocked"`
	MentalState  int                         `json:"mentalState"`
	Collectibles []progress.Collectible      `json:"collectibles"`
	Time         int                         `json:"time"`
	Award        bool                        `json:"award"`
	Credits      []progress.Credit           `json:"credits"`
	NPCNotes     map[string]progress.Note    `json:"npcNotes"`
	Archives     map[string]progress.Archive `json:"archives"`
	Bonds        map[string]int              `json:"bonds,omitempty"`
}

// rawBlob mirrors Blob but keeps credits loose: older saves stored them as
// plain strings.
type rawBlob struct {
	Blob
	Credits json.RawMessage `json:"credits"`
}

type Codec struct {
	// CatalogSize bounds decoded indices. Zero disables the check.
	CatalogSize int
	// DefaultUnlocked replaces a missing or empty unlocked list.
	DefaultUnlocked []int
}

func (c *Codec) Encode(snap progress.Snapshot) Blob {
	b := Blob{
		Version:      BlobVersion,
		Healed:       nonNil(snap.Healed),
		Unlocked:     nonNil(snap.Unlocked),
		MentalState:  snap.MentalState,
		Collectibles: nonNil(snap.Collectibles),
		Time:         snap.Time,
		Award:        snap.Award,
		Credits:      nonNil(snap.Credits),
		NPCNotes:     snap.Notes,
		Archives:     snap.Archives,
		Bonds:        snap.Bonds,
	}
	if b.NPCNotes == nil {
		b.NPCNotes = map[string]progress.Note{}
	}
	if b.Archives == nil {
		b.Archives = map[string]progress.Archive{}
	}
	return b
}

func (c *Codec) Marshal(snap progress.Snapshot) ([]byte, error) {
	data, err := json.Marshal(c.Encode(snap))
	if err != nil {
		return nil, gameerr.Wrap(gameerr.DecodeError, "encoding save", err)
	}
	return data, nil
}

// Decode parses a JSON blob. Missing fields take their defaults and values
// outside their valid ranges are dropped or clamped.
func (c *Codec) Decode(data []byte) (progress.Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return progress.Snapshot{}, gameerr.New(gameerr.DecodeError, "empty save")
	}

	var raw rawBlob
	if err := json.Unmarshal(data, &raw); err != nil {
		return progress.Snapshot{}, gameerr.Wrap(gameerr.DecodeError, "parsing save", err)
	}
	credits, err := decodeCredits(raw.Credits)
	if err != nil {
		return progress.Snapshot{}, gameerr.Wrap(gameerr.DecodeError, "parsing credits", err)
	}

	snap := progress.Snapshot{
		Healed:       c.indices(raw.Healed),
		Unlocked:     c.indices(raw.Unlocked),
		MentalState:  max(raw.MentalState, 0),
		Collectibles: raw.Collectibles,
		Time:         max(raw.Time, 0),
		Award:        raw.Award,
		Credits:      credits,
		Notes:        raw.NPCNotes,
		Archives:     raw.Archives,
		Bonds:        map[string]int{},
	}
	if len(snap.Unlocked) == 0 {
		snap.Unlocked = slices.Clone(c.DefaultUnlocked)
	}
	if snap.Notes == nil {
		snap.Notes = map[string]progress.Note{}
	}
	if snap.Archives == nil {
		snap.Archives = map[string]progress.Archive{}
	}
	for id, v := range raw.Bonds {
		snap.Bonds[id] = min(max(v, progress.MinBond), progress.MaxBond)
	}
	return snap, nil
}

// EncodeCode returns the copy/paste export code: the JSON blob, sealed with a
// crc32 checksum, in standard base64.
func (c *Codec) EncodeCode(snap progress.Snapshot) (string, error) {
	data, err := c.Marshal(snap)
	if err != nil {
		return "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", gameerr.Wrap(gameerr.DecodeError, "encoding save code", err)
	}
	sealed, err := seal(fields)
	if err != nil {
		return "", gameerr.Wrap(gameerr.DecodeError, "encoding save code", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) DecodeCode(code string) (progress.Snapshot, error) {
	code = strings.Join(strings.Fields(code), "")
	if code == "" {
		return progress.Snapshot{}, gameerr.New(gameerr.DecodeError, "empty save code")
	}
	data, err := base64.StdEncoding.Strict().DecodeString(code)
	if err != nil {
		return progress.Snapshot{}, gameerr.Wrap(gameerr.DecodeError, "invalid save code", err)
	}
	if err := verify(data); err != nil {
		return progress.Snapshot{}, err
	}
	return c.Decode(data)
}

// seal sets the sum field to the checksum of the remaining fields and returns
// the blob with keys in sorted order.
func seal(fields map[string]json.RawMessage) ([]byte, error) {
	rest := maps.Clone(fields)
	delete(rest, sumKey)
	body, err := json.Marshal(rest)
	if err != nil {
		return nil, err
	}
	sum, err := json.Marshal(fmt.Sprintf("%08x", crc32.ChecksumIEEE(body)))
	if err != nil {
		return nil, err
	}
	rest[sumKey] = sum
	return json.Marshal(rest)
}

// verify checks a decoded export code against its checksum. Codes older than
// sealedVersion have none and are accepted as they are.
func verify(data []byte) error {
	var head struct {
		Version int    `json:"version"`
		Sum     string `json:"sum"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return gameerr.Wrap(gameerr.DecodeError, "parsing save code", err)
	}
	if head.Sum == "" {
		if head.Version >= sealedVersion {
			return gameerr.New(gameerr.DecodeError, "save code has no checksum")
		}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return gameerr.Wrap(gameerr.DecodeError, "parsing save code", err)
	}
	want, err := seal(fields)
	if err != nil {
		return gameerr.Wrap(gameerr.DecodeError, "parsing save code", err)
	}
	if !bytes.Equal(want, data) {
		return gameerr.New(gameerr.DecodeError, "save code checksum mismatch")
	}
	return nil
}

// indices drops out-of-range and duplicate entries and sorts the rest.
func (c *Codec) indices(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, i := range in {
		if i < 0 || (c.CatalogSize > 0 && i >= c.CatalogSize) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// DecodeCredits reads the separately stored community credits list. Entries
// may be plain names or {name, note} objects.
func DecodeCredits(data []byte) ([]progress.Credit, error) {
	credits, err := decodeCredits(bytes.TrimSpace(data))
	if err != nil {
		return nil, gameerr.Wrap(gameerr.DecodeError, "parsing credits", err)
	}
	return credits, nil
}

func decodeCredits(raw json.RawMessage) ([]progress.Credit, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]progress.Credit, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, progress.Credit{Name: name})
			continue
		}
		var credit progress.Credit
		if err := json.Unmarshal(item, &credit); err != nil {
			return nil, err
		}
		out = append(out, credit)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
