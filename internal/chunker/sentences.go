package chunker

import "unicode"

// SplitSentences cuts text after sentence-ending punctuation followed by
// whitespace, and after line breaks. Trailing whitespace stays with the
// sentence it follows, so the pieces concatenate back to text.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\n':
		case isTerminal(r):
			j := i + 1
			for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
				j++
			}
			if j < len(runes) && !unicode.IsSpace(runes[j]) {
				i = j
				continue
			}
			i = j - 1
		default:
			i++
			continue
		}

		// Cut after the run of whitespace that follows.
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, string(runes[start:j]))
		start = j
		i = j
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}
