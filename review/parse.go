package review

import (
	"encoding/json"
	"regexp"
	"strings"

	"taskagent-backend/core/bounty"
)

var fencedJSONRe = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")

// ParseVerdict decodes a model response into a verdict. The response is not
// assumed to be bare JSON: a fenced code block is tried first, then the whole
// trimmed response. If neither decodes, or a decoded object is missing the
// overallStatus field, the result is a MalformedVerdictError carrying the raw
// text. A formatting failure is never coerced into accepted or rejected.
func ParseVerdict(raw string) (bounty.Verdict, error) {
	candidates := make([]string, 0, 2)
	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, strings.TrimSpace(raw))

	for _, candidate := range candidates {
		verdict, ok := decodeVerdict(candidate)
		if ok {
			return verdict, nil
		}
	}
	return bounty.Verdict{}, &bounty.MalformedVerdictError{Raw: raw}
}

// decodeVerdict fails closed: a JSON object without overallStatus is not a
// verdict, no matter how many other fields it carries.
func decodeVerdict(s string) (bounty.Verdict, bool) {
	var verdict bounty.Verdict
	if err := json.Unmarshal([]byte(s), &verdict); err != nil {
		return bounty.Verdict{}, false
	}
	if strings.TrimSpace(verdict.OverallStatus) == "" {
		return bounty.Verdict{}, false
	}
	return verdict, true
}
