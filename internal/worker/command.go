package worker

import (
	"errors"
	"strings"
	"unicode"
)

// splitCommand breaks a command line into program and arguments. Single and double quotes group
// words, and inside double quotes a backslash escapes a quote or another backslash. An unclosed
// quote runs to the end of the line.
func splitCommand(command string) (string, []string, error) {
	var (
		words   []string
		current strings.Builder
		hasWord bool
		quote   rune
	)
	runes := []rune(command)
	flush := func() {
		if hasWord {
			words = append(words, current.String())
		}
		current.Reset()
		hasWord = false
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '"' && r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\'):
			i++
			current.WriteRune(runes[i])
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			hasWord = true
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			hasWord = true
		}
	}
	flush()

	if len(words) == 0 {
		return "", nil, errors.New("not a valid command")
	}
	return words[0], words[1:], nil
}
