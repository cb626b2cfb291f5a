package dialogue

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxNameLength is the default upper bound on extracted names.
const DefaultMaxNameLength = 50

// namePhraseWords is the introduction of an explicit name statement,
// matched word by word so whitespace runs and letter casing inside the
// phrase do not matter.
var namePhraseWords = []string{"my", "name", "is"}

// bareNameMaxLength bounds the bare-name fallback: a whole utterance is
// only treated as a name when it is short enough to plausibly be one.
const bareNameMaxLength = 30

// ExtractName parses a free-form utterance into a validated personal name.
//
// Extraction rules, in order:
//  1. Everything after a case-insensitive "my name is" is the candidate.
//     The phrase is matched on whole words, so extra whitespace between
//     the words is tolerated.
//  2. Otherwise, an utterance of at most 30 characters whose trimmed form
//     is letters and interior spaces only is taken whole (bare-name reply).
//
// The candidate is trimmed, runs of internal whitespace are collapsed, and
// each word is title-cased. Candidates whose trimmed length falls outside
// [1, maxLen] are rejected. maxLen defaults to DefaultMaxNameLength when
// not positive.
//
// Pure function: no session access, no side effects.
func ExtractName(utterance string, maxLen int) (string, bool) {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}

	trimmed := strings.TrimSpace(utterance)

	var candidate string
	if rest, ok := afterNamePhrase(strings.Fields(trimmed)); ok {
		candidate = strings.Join(rest, " ")
	} else if utf8.RuneCountInString(utterance) <= bareNameMaxLength && isBareName(trimmed) {
		candidate = collapseSpaces(trimmed)
	} else {
		return "", false
	}

	n := utf8.RuneCountInString(candidate)
	if n < 1 || n > maxLen {
		return "", false
	}
	return titleCase(candidate), true
}

// afterNamePhrase scans words for the name-statement introduction and
// returns the words following it. Working on words rather than byte offsets
// keeps the match correct for runes whose lowercase form has a different
// byte length.
func afterNamePhrase(words []string) ([]string, bool) {
	for i := 0; i+len(namePhraseWords) <= len(words); i++ {
		match := true
		for j, p := range namePhraseWords {
			if !strings.EqualFold(words[i+j], p) {
				match = false
				break
			}
		}
		if match {
			return words[i+len(namePhraseWords):], true
		}
	}
	return nil, false
}

// isBareName reports whether s consists only of letters and interior
// spaces, with at least one letter.
func isBareName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' {
			return false
		}
	}
	return true
}

// collapseSpaces reduces every run of whitespace in s to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleCase upper-cases the first letter of each space-separated word and
// lower-cases the rest, so "alice SMITH" becomes "Alice Smith".
func titleCase(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
