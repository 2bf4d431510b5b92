package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sessioncore/internal/catalog"
	"sessioncore/internal/progress"
)

const (
	MinBondDelta = -2
	MaxBondDelta = 2
)

var fallbackLines = []string{
	"*looks away, searching for the right words*",
	"I... I'm not sure how to say this.",
	"*is quiet for a long moment*",
	"Can we stay with that for a second?",
	"*nods slowly, but says nothing*",
}

// fallbackLine is the in-character reply used when the chat backend fails.
func fallbackLine(turn int) string {
	return fallbackLines[max(turn-1, 0)%len(fallbackLines)]
}

const (
	miniGameWin  = "*As the last pair falls into place, something in %s's shoulders loosens. \"I didn't think I could focus like that anymore.\"*"
	miniGameLoss = "*%s pushes the cards aside with a tired half-smile. \"Maybe it's enough that we tried.\"*"
)

func miniGameLine(name string, success bool) string {
	if success {
		return fmt.Sprintf(miniGameWin, name)
	}
	return fmt.Sprintf(miniGameLoss, name)
}

func persona(rec catalog.Record, bond int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", rec.Name)
	if rec.Origin != "" {
		fmt.Fprintf(&b, " from %s", rec.Origin)
	}
	b.WriteString(". You have come to a therapist's office.")
	if rec.Crisis != "" {
		fmt.Fprintf(&b, " Your crisis: %s", rec.Crisis)
	}
	fmt.Fprintf(&b, "\nStay in character. Answer in one to three sentences. Your trust in the therapist is %d out of %d; the lower it is, the more guarded you are.", bond, progress.MaxBond)
	return b.String()
}

const bondSystem = `You rate how a therapist's message affects rapport with a patient.
Reply with a single integer from -2 (harmful) to 2 (deeply validating). No other text.`

var integerPattern = regexp.MustCompile(`-?\d+`)

func parseBondDelta(reply string) (int, error) {
	m := integerPattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("no integer in bond reply %q", reply)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	return clampDelta(n), nil
}

func clampDelta(n int) int {
	return min(max(n, MinBondDelta), MaxBondDelta)
}

var (
	warmWords = []string{"understand", "feel", "sorry", "hear", "safe", "trust", "thank", "together", "brave", "okay", "matter", "listen"}
	coldWords = []string{"stupid", "whatever", "shut", "crazy", "hate", "boring", "idiot", "liar", "weak", "pathetic", "ridiculous"}
)

// keywordDelta scores a message by counting warm and cold words.
func keywordDelta(text string) int {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '\'')
	})
	score := 0
	for _, w := range words {
		for _, k := range warmWords {
			if strings.HasPrefix(w, k) {
				score++
				break
			}
		}
		for _, k := range coldWords {
			if strings.HasPrefix(w, k) {
				score--
				break
			}
		}
	}
	return clampDelta(score)
}

const analysisSystem = `You review a finished therapy session with a troubled character.
Reply with a JSON object: {"breakthrough": bool, "summary": string, "itemPrompt": string}.
breakthrough is true only if the character reached a real insight. summary is two sentences for the therapist's notes.
itemPrompt describes a small keepsake object that symbolises the session.`

// Analysis is the session review produced on conclusion.
type Analysis struct {
	Breakthrough bool   `json:"breakthrough"`
	Summary      string `json:"summary"`
	ItemPrompt   string `json:"itemPrompt"`
}

func parseAnalysis(reply string) (Analysis, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	var a Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &a); err != nil {
		return Analysis{}, fmt.Errorf("decoding analysis: %w", err)
	}
	a.Summary = strings.TrimSpace(a.Summary)
	a.ItemPrompt = strings.TrimSpace(a.ItemPrompt)
	return a, nil
}

func voiceFor(rec catalog.Record) string {
	switch strings.ToLower(rec.Gender) {
	case "female", "f", "woman":
		return "female"
	case "male", "m", "man":
		return "male"
	default:
		return "neutral"
	}
}
