package textgen

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Parameters captures the generation knobs forwarded to the backend.
type Parameters struct {
	MaxNewTokens      int         `json:"max_new_tokens,omitempty"`
	MinNewTokens      int         `json:"min_new_tokens,omitempty"`
	Temperature       float64     `json:"temperature,omitempty"`
	TopK              int         `json:"top_k,omitempty"`
	TopP              float64     `json:"top_p,omitempty"`
	RepetitionPenalty float64     `json:"repetition_penalty,omitempty"`
	StopSequences     []string    `json:"stop_sequences,omitempty"`
	Decoding          *GuidedSpec `json:"decoding,omitempty"`
}

// GuidedSpec constrains generated output. At most one mode is set.
type GuidedSpec struct {
	Choice     *ChoiceSpec `json:"choice,omitempty"`
	Grammar    string      `json:"grammar,omitempty"`
	JSONSchema any         `json:"json_schema,omitempty"`
	Regex      string      `json:"regex,omitempty"`
}

// ChoiceSpec limits output to one of a fixed set of strings.
type ChoiceSpec struct {
	Choices []string `json:"choices"`
}

// Options carries execution settings that shape how calls are issued,
// as opposed to what the model generates.
type Options struct {
	PreserveInputText   bool `json:"preserve_input_text,omitempty"`
	IncludeStopSequence bool `json:"include_stop_sequence,omitempty"`
}

// GuidedOverride is a per-call constrained-decoding request. Recognized
// keys are "choice" (list of strings), "grammar" (string), "json"
// (schema value or serialized schema string) and "regex" (string).
type GuidedOverride map[string]any

const (
	overrideKeyChoice  = "choice"
	overrideKeyGrammar = "grammar"
	overrideKeyJSON    = "json"
	overrideKeyRegex   = "regex"
)

// clone returns a copy of p that shares no mutable state with it.
func (p Parameters) clone() Parameters {
	out := p
	out.StopSequences = slices.Clone(p.StopSequences)
	if p.Decoding != nil {
		spec := *p.Decoding
		if p.Decoding.Choice != nil {
			choice := ChoiceSpec{Choices: slices.Clone(p.Decoding.Choice.Choices)}
			spec.Choice = &choice
		}
		out.Decoding = &spec
	}
	return out
}

// ResolveParameters merges a guided-decoding override into base
// parameters. A non-empty override replaces the base decoding spec
// outright; overrides never merge with it. When several override keys
// are present the highest-priority one wins (choice > grammar > json >
// regex) and the rest are ignored. The base parameters are not mutated.
func ResolveParameters(base Parameters, override GuidedOverride) (Parameters, error) {
	out := base.clone()
	if len(override) == 0 {
		return out, nil
	}

	spec := &GuidedSpec{}
	switch {
	case hasKey(override, overrideKeyChoice):
		choices, err := stringList(override[overrideKeyChoice])
		if err != nil {
			return Parameters{}, &ValidationError{Kind: KindUnsupportedConstraint, Message: fmt.Sprintf("choice constraint: %v", err)}
		}
		spec.Choice = &ChoiceSpec{Choices: choices}
	case hasKey(override, overrideKeyGrammar):
		grammar, ok := override[overrideKeyGrammar].(string)
		if !ok {
			return Parameters{}, &ValidationError{Kind: KindUnsupportedConstraint, Message: "grammar constraint must be a string"}
		}
		spec.Grammar = grammar
	case hasKey(override, overrideKeyJSON):
		schema, err := parseSchema(override[overrideKeyJSON])
		if err != nil {
			return Parameters{}, err
		}
		spec.JSONSchema = schema
	case hasKey(override, overrideKeyRegex):
		regex, ok := override[overrideKeyRegex].(string)
		if !ok {
			return Parameters{}, &ValidationError{Kind: KindUnsupportedConstraint, Message: "regex constraint must be a string"}
		}
		spec.Regex = regex
	default:
		return Parameters{}, &ValidationError{
			Kind:    KindUnsupportedConstraint,
			Message: fmt.Sprintf("unsupported constraint keys: %s", strings.Join(overrideKeys(override), ", ")),
		}
	}

	out.Decoding = spec
	return out, nil
}

func hasKey(override GuidedOverride, key string) bool {
	_, ok := override[key]
	return ok
}

func overrideKeys(override GuidedOverride) []string {
	keys := make([]string, 0, len(override))
	for k := range override {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSchema accepts either an already-structured schema value or a
// serialized JSON string. Invalid JSON is surfaced, not swallowed.
func parseSchema(value any) (any, error) {
	raw, ok := value.(string)
	if !ok {
		return value, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &ValidationError{Kind: KindInvalidSchema, Message: fmt.Sprintf("parse json schema: %v", err)}
	}
	return parsed, nil
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string entries, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", value)
	}
}
