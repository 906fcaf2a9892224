// Package classify maps recognized panel text to a plant category
package classify

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Category is the state of the currently selected plant.
type Category uint32

const (
	None    Category = iota // nothing recognized
	Growing                 // mid-growth, nothing to do
	Thirsty
	Hungry
	Ripe
)

func (c Category) String() string {
	switch c {
	case Growing:
		return "growing"
	case Thirsty:
		return "thirsty"
	case Hungry:
		return "hungry"
	case Ripe:
		return "ripe"
	default:
		return "none"
	}
}

// Idle reports whether the worker has nothing to do for c.
func (c Category) Idle() bool {
	return c == None || c == Growing
}

// label pairs a canonical prefix with its category. Order is match priority.
type label struct {
	prefix   string
	category Category
}

var labels = []label{
	{"Growin", Growing},
	{"Thirst", Thirsty},
	{"Hungry", Hungry},
	{"Bloomi", Ripe},
	{"Ripe", Ripe},
}

// Classify returns the category for raw recognized text. Unrecognized
// input maps to None.
func Classify(text string) Category {
	candidate, ok := candidatePrefix(text)
	if !ok {
		return None
	}
	for _, l := range labels {
		if levenshtein.ComputeDistance(candidate, l.prefix) < MaxDistance {
			return l.category
		}
	}
	return None
}

// candidatePrefix returns the first token of at least MinTokenLen runes,
// truncated to MaxPrefixLen runes.
func candidatePrefix(text string) (string, bool) {
	for _, tok := range strings.Fields(text) {
		if utf8.RuneCountInString(tok) < MinTokenLen {
			continue
		}
		// noisy OCR often merges the following word, compare the head only
		if r := []rune(tok); len(r) > MaxPrefixLen {
			tok = string(r[:MaxPrefixLen])
		}
		return tok, true
	}
	return "", false
}
