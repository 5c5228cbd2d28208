package account

import (
	"encoding/json"
	"strings"
)

// Historically the policies column held a mix of {"policyId": "..."} objects
// and bare id strings, with the occasional null left behind by older writers.
// The canonical representation everywhere above this file is []string; the
// legacy translation lives only here, at the serialization edge.

func decodePolicies(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			PolicyID string `json:"policyId"`
		}
		if err := json.Unmarshal(e, &obj); err == nil && strings.TrimSpace(obj.PolicyID) != "" {
			out = append(out, obj.PolicyID)
		}
		// null and unrecognized entries are dropped
	}
	return out, nil
}

func encodePolicies(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}
