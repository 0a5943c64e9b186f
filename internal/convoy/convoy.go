// Package convoy interprets `gt convoy list --all --json` output and
// decides whether the workload's convoy has landed.
package convoy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Convoy is one entry of the convoy listing. Fields the tool omits stay
// empty and simply never match.
type Convoy struct {
	Title  string `json:"title"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Parse decodes a convoy listing. Anything but a top-level JSON array is
// an error.
func Parse(data []byte) ([]Convoy, error) {
	var convoys []Convoy
	if err := json.Unmarshal(data, &convoys); err != nil {
		return nil, fmt.Errorf("parse convoy listing: %w", err)
	}
	return convoys, nil
}

// Matcher decides which convoy counts as the workload's and which statuses
// count as landed. Keywords are matched case-insensitively as substrings
// of the concatenated title and name; statuses are matched exactly after
// lowercasing.
type Matcher struct {
	Keywords []string
	Statuses []string
}

// Matches reports whether c is a landed instance of the workload's convoy.
func (m Matcher) Matches(c Convoy) bool {
	hay := strings.ToLower(c.Title + c.Name)
	matched := false
	for _, kw := range m.Keywords {
		if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	status := strings.ToLower(c.Status)
	for _, s := range m.Statuses {
		if status == strings.ToLower(s) {
			return true
		}
	}
	return false
}

// AnyLanded reports whether any convoy in the raw listing matches. Blank,
// unparseable, or non-array output reads as "not landed"; the poller just
// keeps waiting.
func (m Matcher) AnyLanded(data []byte) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		return false
	}
	convoys, err := Parse(data)
	if err != nil {
		return false
	}
	for _, c := range convoys {
		if m.Matches(c) {
			return true
		}
	}
	return false
}
