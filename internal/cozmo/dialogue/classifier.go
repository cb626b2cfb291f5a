// Package dialogue implements the conversation state machine: classifying
// each utterance, applying the per-stage transition rule, and composing the
// reply text. All state lives in the session store; the engine itself holds
// only configuration and the compiled dialogue script.
package dialogue

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cozmobot/cozmo/internal/cozmo/script"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

// Intent is the classifier's categorical judgment of an utterance's purpose
// at the current stage.
type Intent string

const (
	// IntentGreeting is a greeting phrase ("hi", "hello", ...).
	IntentGreeting Intent = "greeting"
	// IntentPositive is an affirmation of wellbeing ("i'm good", "fine", ...).
	IntentPositive Intent = "positive"
	// IntentNegative is a negative-wellbeing statement ("not good", ...).
	IntentNegative Intent = "negative"
	// IntentName is a name statement. Reserved for script rules; name
	// capture itself goes through ExtractName.
	IntentName Intent = "name"
	// IntentFarewell is a goodbye phrase.
	IntentFarewell Intent = "farewell"
	// IntentUnknown means no rule matched.
	IntentUnknown Intent = "unknown"
)

// Classifier maps free-form text to an Intent using the ordered rule lists
// of a dialogue script. It is a pure matcher: no side effects, and the same
// (utterance, stage) pair always yields the same intent.
type Classifier struct {
	rules map[session.Stage][]compiledRule
}

type compiledRule struct {
	intent  Intent
	phrases []string // already lower-cased
}

// NewClassifier compiles the rule lists of sc. Script stage and intent
// names are validated during script parsing, so compilation cannot fail on
// a parsed script; the error return guards against hand-built ones.
func NewClassifier(sc *script.Script) (*Classifier, error) {
	c := &Classifier{rules: make(map[session.Stage][]compiledRule)}
	for _, st := range sc.Stages {
		stage := session.Stage(st.Stage)
		if !stage.Valid() {
			return nil, fmt.Errorf("dialogue: script references unknown stage %q", st.Stage)
		}
		for _, r := range st.Rules {
			cr := compiledRule{intent: Intent(r.Intent)}
			switch cr.intent {
			case IntentGreeting, IntentPositive, IntentNegative, IntentName, IntentFarewell:
			default:
				return nil, fmt.Errorf("dialogue: script references unknown intent %q", r.Intent)
			}
			for _, p := range r.Phrases {
				cr.phrases = append(cr.phrases, strings.ToLower(strings.TrimSpace(p)))
			}
			c.rules[stage] = append(c.rules[stage], cr)
		}
	}
	return c, nil
}

// Classify returns the intent of utterance at the given stage.
//
// The utterance is lower-cased and trimmed, then tested against the stage's
// rules in script order; the first rule with a matching phrase wins. This
// ordering is the tie-break contract for overlapping phrase-sets: a script
// that lists negative phrases before positive ones guarantees "not good"
// never classifies as positive. Returns IntentUnknown when nothing matches.
func (c *Classifier) Classify(utterance string, stage session.Stage) Intent {
	norm := strings.ToLower(strings.TrimSpace(utterance))
	if norm == "" {
		return IntentUnknown
	}

	words := tokenize(norm)
	for _, r := range c.rules[stage] {
		for _, p := range r.phrases {
			if matchPhrase(norm, words, p) {
				return r.intent
			}
		}
	}
	return IntentUnknown
}

// matchPhrase tests one phrase against the normalized utterance.
// Multi-word phrases match as substrings; single words match on word
// boundaries, so "hi" matches "hi there" but not "this".
func matchPhrase(norm string, words []string, phrase string) bool {
	if strings.ContainsRune(phrase, ' ') {
		return strings.Contains(norm, phrase)
	}
	for _, w := range words {
		if w == phrase {
			return true
		}
	}
	return false
}

// tokenize splits a normalized utterance into words. Apostrophes stay part
// of the word so contractions like "i'm" survive as single tokens.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
