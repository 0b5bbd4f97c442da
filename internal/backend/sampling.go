package backend

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
)

// Repetition penalty bounds for engines that reject out-of-range values.
const (
	minRepetitionPenalty = 0.01
	maxRepetitionPenalty = 2.0
)

// disabledTopK is how vllm-style engines spell "no top-k filtering".
const disabledTopK = -1

// fixTopK remaps the horde's "0 means disabled" to the engine's -1.
func fixTopK(k int) int {
	if k == 0 {
		return disabledTopK
	}
	return k
}

func clampRepetitionPenalty(p float64) float64 {
	if p > maxRepetitionPenalty {
		return maxRepetitionPenalty
	}
	if p < minRepetitionPenalty {
		return minRepetitionPenalty
	}
	return p
}

func stopOrEmpty(stop []string) []string {
	if stop == nil {
		return []string{}
	}
	return stop
}

// textField decodes a field that is either a string or an array whose first
// element is the string.
func textField(raw json.RawMessage, what string) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", transport.NewParseError(what, errors.New("missing"))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", transport.NewParseError(what, err)
	}
	if len(list) == 0 {
		return "", transport.NewParseError(what, errors.New("empty array"))
	}
	return list[0], nil
}

// stripPrompt removes the echoed prompt from the front of a completion.
func stripPrompt(text, prompt string) string {
	if strings.HasPrefix(text, prompt) {
		return text[len(prompt):]
	}
	// Echo differs byte-wise (normalization); drop the same number of characters.
	n := utf8.RuneCountInString(prompt)
	for i := range text {
		if n == 0 {
			return text[i:]
		}
		n--
	}
	return ""
}
