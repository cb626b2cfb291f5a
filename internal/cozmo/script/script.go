// Package script defines the dialogue script: the per-stage trigger
// phrase-sets and reply templates that drive the conversation.
//
// The script is a first-class, validated artifact rather than incidental
// code order. Rules within a stage are an ordered list and are evaluated
// first-match-wins, which is how overlapping phrase-sets (such as "good"
// inside "not good") are resolved deterministically: the script author puts
// the negative-sentiment rule before the positive one.
//
// A built-in default script ships embedded in the binary; operators can
// replace it with a YAML file, which is validated against an embedded JSON
// schema before use.
package script

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

//go:embed default.yaml
var defaultYAML []byte

// Stage names accepted in a script. These mirror the session stage enum.
const (
	StageGreeting    = "greeting"
	StageWellbeing   = "wellbeing"
	StageNameRequest = "name_request"
	StageFarewell    = "farewell"
)

// Intent names accepted in a script rule.
const (
	IntentGreeting = "greeting"
	IntentPositive = "positive"
	IntentNegative = "negative"
	IntentName     = "name"
	IntentFarewell = "farewell"
)

// Script is a complete dialogue script.
type Script struct {
	// Opening is sent in response to the explicit start/reset trigger.
	Opening string `yaml:"opening"`
	// Unrecognized is the fallback reply when no stage-specific reply applies.
	Unrecognized string `yaml:"unrecognized"`
	// Error is the generic apology sent when message handling fails internally.
	Error string `yaml:"error"`
	// Stages holds one entry per conversation stage.
	Stages []StageScript `yaml:"stages"`
}

// StageScript is the script for a single conversation stage.
type StageScript struct {
	// Stage is one of the four stage names.
	Stage string `yaml:"stage"`
	// Rules is the ordered list of trigger rules; first match wins.
	Rules []Rule `yaml:"rules"`
	// Replies holds the stage's reply templates.
	Replies Replies `yaml:"replies"`
}

// Rule maps a phrase-set to an intent.
type Rule struct {
	Intent  string   `yaml:"intent"`
	Phrases []string `yaml:"phrases"`
}

// Replies are the reply templates for a stage. Templates may contain the
// {name} placeholder, replaced with the user's stored name at send time.
type Replies struct {
	// Advance is sent when the stage's transition succeeds.
	Advance string `yaml:"advance"`
	// Reprompt is sent when the input did not move the conversation forward.
	Reprompt string `yaml:"reprompt"`
	// Positive, Negative, and Neutral are the sentiment-specific
	// acknowledgements used by the wellbeing stage.
	Positive string `yaml:"positive"`
	Negative string `yaml:"negative"`
	Neutral  string `yaml:"neutral"`
}

var compiledSchema = jsonschema.MustCompileString("script.schema.json", schemaJSON)

// Default returns the built-in dialogue script. It panics only if the
// embedded asset fails to parse, which is a build defect, not a runtime
// condition.
func Default() *Script {
	sc, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("script: embedded default script is invalid: %v", err))
	}
	return sc
}

// Load reads and parses a dialogue script from a YAML file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("script: %s: %w", path, err)
	}
	return sc, nil
}

// Parse parses YAML script data, validating it against the embedded JSON
// schema and the structural rules the schema cannot express (each stage
// exactly once).
func Parse(data []byte) (*Script, error) {
	// Validate the raw document against the schema first so authors get
	// schema-level errors (unknown keys, bad enum values) rather than
	// whatever zero-value behavior a direct unmarshal would produce.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	jsonReady, err := toJSONValue(raw)
	if err != nil {
		return nil, err
	}
	if err := compiledSchema.Validate(jsonReady); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	seen := make(map[string]bool, len(sc.Stages))
	for _, st := range sc.Stages {
		if seen[st.Stage] {
			return nil, fmt.Errorf("stage %q appears more than once", st.Stage)
		}
		seen[st.Stage] = true
	}
	for _, name := range []string{StageGreeting, StageWellbeing, StageNameRequest, StageFarewell} {
		if !seen[name] {
			return nil, fmt.Errorf("stage %q is missing", name)
		}
	}

	return &sc, nil
}

// StageFor returns the script entry for the named stage, or false when the
// stage is unknown.
func (s *Script) StageFor(name string) (StageScript, bool) {
	for _, st := range s.Stages {
		if st.Stage == name {
			return st, true
		}
	}
	return StageScript{}, false
}

// toJSONValue re-encodes a yaml.v3 document value through encoding/json so
// the jsonschema validator sees the value kinds it expects (map[string]any,
// []any, float64, ...).
func toJSONValue(v any) (any, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert yaml document to json: %w", err)
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("convert yaml document to json: %w", err)
	}
	return out, nil
}
