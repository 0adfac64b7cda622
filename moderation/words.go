package moderation

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"
)

//go:embed words.txt
var defaultWords []byte

// DefaultCensor builds a censor over the embedded banned-word list.
// Deployments with their own list should call NewCensor directly.
func DefaultCensor(replacement rune) (*Censor, error) {
	var words []string
	scanner := bufio.NewScanner(bytes.NewReader(defaultWords))
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" && !strings.HasPrefix(word, "#") {
			words = append(words, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewCensor(words, replacement)
}
