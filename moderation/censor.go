// Package moderation masks banned words in chat content before it is
// persisted and fanned out, so the stored history and the live delivery
// always agree on the censored form.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Censor matches banned patterns with an Aho-Corasick automaton built over
// a normalized alphabet, then masks the matching characters in the original
// text while preserving its spacing and punctuation.
type Censor struct {
	machine     *goahocorasick.Machine
	replacement rune
}

func NewCensor(bannedWords []string, replacement rune) (*Censor, error) {
	patterns := make([][]rune, 0, len(bannedWords))
	for _, word := range bannedWords {
		pattern, _ := normalize([]rune(word), nil)
		if len(pattern) > 0 {
			patterns = append(patterns, pattern)
		}
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Censor{machine: machine, replacement: replacement}, nil
}

// Apply returns the content with every banned match masked. Content without
// matches is returned unchanged.
func (c *Censor) Apply(content string) string {
	original := []rune(content)
	normalized, indexes := normalize(original, make([]int, 0, len(original)))
	if len(normalized) == 0 {
		return content
	}

	matches := c.machine.MultiPatternSearch(normalized, false)
	if len(matches) == 0 {
		return content
	}

	for _, match := range matches {
		start := match.Pos
		end := start + len(match.Word)
		if start < 0 || end > len(indexes) {
			continue
		}
		for i := indexes[start]; i <= indexes[end-1]; i++ {
			original[i] = c.replacement
		}
	}
	return string(original)
}

// normalize lowercases, folds common leet substitutions, and drops spacing
// and punctuation. When indexes is non-nil it records, per normalized rune,
// the position of its source rune in the input.
func normalize(input []rune, indexes []int) ([]rune, []int) {
	out := make([]rune, 0, len(input))
	for i, r := range input {
		folded := foldLeet(r)
		if unicode.IsPunct(folded) || unicode.IsSpace(folded) || unicode.IsSymbol(folded) {
			continue
		}
		out = append(out, unicode.ToLower(folded))
		if indexes != nil {
			indexes = append(indexes, i)
		}
	}
	return out, indexes
}

func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	default:
		return r
	}
}
