package expander

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	fencePattern         = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	thinkPattern         = regexp.MustCompile(`(?s)<think>.*?</think>`)
	synonymsPattern      = regexp.MustCompile(`"synonyms"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reformulationPattern = regexp.MustCompile(`"reformulation"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Parse extracts an Expansion from a model response. It tries strict JSON,
// then repaired JSON, then a field-by-field regex, and returns an empty
// Expansion when nothing matches.
func Parse(text string) Expansion {
	text = strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if text == "" {
		return Expansion{}
	}

	if exp, ok := decode(text); ok {
		return exp
	}

	if repaired, err := jsonrepair.JSONRepair(text); err == nil {
		if exp, ok := decode(repaired); ok {
			return exp
		}
	}

	var exp Expansion
	if m := synonymsPattern.FindStringSubmatch(text); m != nil {
		exp.Synonyms = unescape(m[1])
	}
	if m := reformulationPattern.FindStringSubmatch(text); m != nil {
		exp.Reformulation = unescape(m[1])
	}
	return exp
}

// decode accepts string or string-array fields, since models return both
func decode(text string) (Expansion, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Expansion{}, false
	}
	exp := Expansion{
		Synonyms:      field(raw["synonyms"]),
		Reformulation: field(raw["reformulation"]),
	}
	return exp, !exp.IsEmpty()
}

func field(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(out)
}
