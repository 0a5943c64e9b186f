package convoy

import "testing"

func defaultMatcher() Matcher {
	return Matcher{
		Keywords: []string{"crypto", "tales"},
		Statuses: []string{"closed", "landed"},
	}
}

func TestAnyLanded(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{
			"closed crypto convoy",
			`[{"title":"The Crypto Tales","status":"closed"}]`,
			true,
		},
		{
			"landed by name field",
			`[{"name":"crypto-run-7","status":"landed"}]`,
			true,
		},
		{
			"matching convoy still open",
			`[{"title":"The Crypto Tales","status":"open"}]`,
			false,
		},
		{
			"unrelated convoy closed",
			`[{"title":"refactor sweep","status":"closed"}]`,
			false,
		},
		{
			"second entry matches",
			`[{"title":"other","status":"open"},{"title":"tales of gastown","status":"landed"}]`,
			true,
		},
		{
			"case insensitive",
			`[{"title":"THE CRYPTO TALES","status":"CLOSED"}]`,
			true,
		},
		{
			"keyword spans title and name",
			`[{"title":"cryp","name":"to","status":"closed"}]`,
			true,
		},
		{
			"missing status",
			`[{"title":"crypto"}]`,
			false,
		},
		{"empty array", `[]`, false},
		{"top-level object", `{"title":"crypto","status":"closed"}`, false},
		{"not json", `convoy list unavailable`, false},
		{"blank output", "  \n", false},
		{"array of scalars", `[1,2,3]`, false},
	}

	m := defaultMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.AnyLanded([]byte(tt.data)); got != tt.want {
				t.Errorf("AnyLanded(%q) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestMatcherCustomKeywords(t *testing.T) {
	m := Matcher{Keywords: []string{"payments"}, Statuses: []string{"done"}}

	if !m.Matches(Convoy{Title: "Payments rework", Status: "done"}) {
		t.Error("Matches = false, want true for custom keyword")
	}
	if m.Matches(Convoy{Title: "The Crypto Tales", Status: "closed"}) {
		t.Error("Matches = true, want false once keywords are replaced")
	}
}

func TestMatcherNoKeywords(t *testing.T) {
	m := Matcher{Statuses: []string{"closed"}}
	if m.Matches(Convoy{Title: "anything", Status: "closed"}) {
		t.Error("Matches = true, want false when no keywords are configured")
	}
}

func TestMatcherIgnoresEmptyKeyword(t *testing.T) {
	m := Matcher{Keywords: []string{""}, Statuses: []string{"closed"}}
	if m.Matches(Convoy{Title: "anything", Status: "closed"}) {
		t.Error("Matches = true, want false for empty keyword")
	}
}

func TestParse(t *testing.T) {
	convoys, err := Parse([]byte(`[{"title":"a","name":"b","status":"open"}]`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(convoys) != 1 {
		t.Fatalf("len(convoys) = %d, want 1", len(convoys))
	}
	want := Convoy{Title: "a", Name: "b", Status: "open"}
	if convoys[0] != want {
		t.Errorf("convoys[0] = %+v, want %+v", convoys[0], want)
	}

	if _, err := Parse([]byte(`{"not":"array"}`)); err == nil {
		t.Error("Parse accepted a top-level object, want error")
	}
}
