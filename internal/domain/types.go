package domain

import "fmt"

// PhaseSpec describes one of the eight fixed phases of a cycle
type PhaseSpec struct {
	Seq      int
	Title    string // report heading suffix
	Artifact string // markdown file name inside the run directory
	Index    string // description used by the README artifact table
	Summary  string // short label used by the final console summary
}

// Phases is the fixed phase order. Artifact names are part of the
// report-bundle contract; tooling downstream links to them by name.
var Phases = [8]PhaseSpec{
	{Seq: 1, Title: "Reset OpenTelemetry", Artifact: "01-otel-reset.md", Index: "Reset OpenTelemetry data", Summary: "OTEL reset"},
	{Seq: 2, Title: "Reset Gastown", Artifact: "02-gastown-reset.md", Index: "Reset Gastown instance", Summary: "Gastown instance reset"},
	{Seq: 3, Title: "OTEL Stack + gastown-trace", Artifact: "03-otel-start.md", Index: "Start OTEL stack + gastown-trace", Summary: "OTEL stack + gastown-trace"},
	{Seq: 4, Title: "Start Mayor", Artifact: "04-gastown-start.md", Index: "Init Gastown workspace + Mayor", Summary: "Gastown init + Mayor"},
	{Seq: 5, Title: "Test Suite Launch", Artifact: "05-test-launch.md", Index: "Launch test suite (prompt → Mayor)", Summary: "Test suite launch"},
	{Seq: 6, Title: "Test Results", Artifact: "06-test-results.md", Index: "Test results (convoy landing)", Summary: "Convoy results + doctor"},
	{Seq: 7, Title: "OTEL Data", Artifact: "07-otel-data.md", Index: "OTEL metrics + logs collected", Summary: "Metrics + log counts"},
	{Seq: 8, Title: "Recommendations", Artifact: "08-recommendations.md", Index: "Recommendations", Summary: "Recommendations"},
}

// ReportTitle is the h1 written at the top of the phase's artifact.
func (p PhaseSpec) ReportTitle() string {
	return fmt.Sprintf("Phase %d — %s", p.Seq, p.Title)
}
