// Package recommend derives the phase 8 follow-up list from a run's
// telemetry snapshot. Derivation is pure: the same snapshot and
// environment always produce the same ordered list.
package recommend

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultTokenThreshold is the input-token count above which the
// high-usage rule fires. The comparison is strict.
const DefaultTokenThreshold = 100000

// Snapshot holds the end-of-run measurements the rules read. Errors is -1
// when the log store was unreachable, which suppresses the error rule.
type Snapshot struct {
	Landed        bool
	Elapsed       int
	TotalElapsed  int
	Errors        int
	SessionStarts float64
	PolecatSpawns float64
	InputTokens   float64
	OutputTokens  float64
}

// Env carries the run-environment facts recommendation bodies mention.
type Env struct {
	TownDir          string
	LogsURL          string
	GrafanaURL       string
	TraceURL         string
	TracePID         int
	TimeoutSeconds   int
	ExpectedPolecats int
	PolecatNames     []string
	PromptName       string
	ConvoyTitle      string
	TokenThreshold   int
}

// PartKind distinguishes the block types a recommendation body is built of.
type PartKind string

const (
	Paragraph PartKind = "paragraph"
	CodeBlock PartKind = "code"
)

// Part is one block of a recommendation body.
type Part struct {
	Kind PartKind
	Text string
	Lang string
}

// Recommendation is one item of the phase 8 list. Titles carry no number;
// the report writer numbers items consecutively as it renders them.
type Recommendation struct {
	Title string
	Parts []Part
}

func p(text string) Part { return Part{Kind: Paragraph, Text: text} }

func code(text, lang string) Part { return Part{Kind: CodeBlock, Text: text, Lang: lang} }

// Derive applies the rule catalog in its fixed order: conditional rules for
// landing, log errors, polecat count, and token usage, then the four
// unconditional follow-ups.
func Derive(snap Snapshot, env Env) []Recommendation {
	var recs []Recommendation

	if !snap.Landed {
		recs = append(recs, notLanded(env))
	}
	if snap.Errors > 0 {
		recs = append(recs, logErrors(snap.Errors, env))
	}
	spawns := int(snap.PolecatSpawns)
	if spawns == 0 {
		recs = append(recs, noPolecats(env))
	} else if spawns != env.ExpectedPolecats {
		recs = append(recs, polecatMismatch(spawns, env))
	}
	if snap.InputTokens > float64(env.TokenThreshold) {
		recs = append(recs, tokenUsage(snap.InputTokens))
	}

	recs = append(recs,
		verifyDeliverables(env),
		telemetryCoverage(),
		exploreTraces(env),
		reviewDashboards(env),
	)
	return recs
}

func notLanded(env Env) Recommendation {
	return Recommendation{
		Title: "Convoy did not land — investigate agent states",
		Parts: []Part{
			p(fmt.Sprintf("The convoy %q did not reach LANDED within %ds.", env.ConvoyTitle, env.TimeoutSeconds)),
			code(strings.Join([]string{
				"cd " + env.TownDir,
				"gt convoy list --all --tree   # full convoy state",
				"gt agents                      # list running sessions",
				"gt ready                       # work stuck as pending?",
				"gt doctor                      # health check",
			}, "\n"), "bash"),
		},
	}
}

func logErrors(count int, env Env) Recommendation {
	return Recommendation{
		Title: fmt.Sprintf("%d error(s) detected in logs", count),
		Parts: []Part{
			p("Investigate in VictoriaLogs:"),
			code("service_name:gastown AND level:error", "logsql"),
			p(fmt.Sprintf("→ [%s/select/vmui/…](%s/select/vmui/#/?query=service_name%%3Agastown%%20AND%%20level%%3Aerror)",
				env.LogsURL, env.LogsURL)),
		},
	}
}

func noPolecats(env Env) Recommendation {
	names := ""
	if len(env.PolecatNames) > 0 {
		names = " (" + strings.Join(env.PolecatNames, ", ") + ")"
	}
	return Recommendation{
		Title: "No polecats were spawned",
		Parts: []Part{
			p(fmt.Sprintf("%s requires %d polecats%s. None were spawned.\n\n"+
				"Possible causes: Mayor did not receive the mail, Mayor session crashed, "+
				"or rig initialization failed.\n\n"+
				"Attach to the Mayor: `gt mayor attach`",
				env.PromptName, env.ExpectedPolecats, names)),
		},
	}
}

func polecatMismatch(spawns int, env Env) Recommendation {
	rec := Recommendation{
		Title: fmt.Sprintf("Unexpected polecat count: %d (expected %d)", spawns, env.ExpectedPolecats),
	}
	if spawns < env.ExpectedPolecats {
		rec.Parts = []Part{
			p(fmt.Sprintf("Only %d/%d agents started. Check `gt ready` for unassigned issues.",
				spawns, env.ExpectedPolecats)),
		}
	} else {
		rec.Parts = []Part{
			p(fmt.Sprintf("%d polecats spawned — Mayor may have created retries or parallel tracks. "+
				"Check `gt trail` and `gt convoy list --tree`.", spawns)),
		}
	}
	return rec
}

func tokenUsage(inputTokens float64) Recommendation {
	return Recommendation{
		Title: fmt.Sprintf("High input token usage (%s tokens)", humanize.Comma(int64(inputTokens))),
		Parts: []Part{
			p("Consider:\n\n" +
				"- Run `gt compact` between test runs to clean expired wisps\n" +
				"- Review `gt prime` formula length — shorten boilerplate in agent context\n" +
				"- Check `gt costs` for per-session breakdown"),
		},
	}
}

func verifyDeliverables(env Env) Recommendation {
	return Recommendation{
		Title: "Verify Python crypto deliverables",
		Parts: []Part{
			p("Once polecats are done, run the end-to-end OpenSSL chain:"),
			code(strings.Join([]string{
				"cd " + env.TownDir,
				"gt rig list                          # find alice/bob/eve repos",
				"# then from a shared working directory:",
				"python alice.py && python bob.py && python eve.py",
			}, "\n"), "bash"),
			p("Expected:\n\n" +
				"- `bob.py` decrypts and prints: **\"Meet me at the old cipher tree at midnight.\"**\n" +
				"- `eve.py` raises a decryption exception — confirming RSA-OAEP is unbreakable without " +
				"the private key."),
		},
	}
}

func telemetryCoverage() Recommendation {
	return Recommendation{
		Title: "Check Claude Code OTLP coverage per agent",
		Parts: []Part{
			p("Each polecat session should emit telemetry tagged with `gt.role` and `gt.rig`:"),
			code("service.name:claude-code AND gt.role:*", "logsql"),
			p("If a session is missing, it did not inherit `CLAUDE_CODE_ENABLE_TELEMETRY=1`.\n" +
				"Ensure `GT_OTEL_METRICS_URL` was exported **before** `gt mayor start`."),
		},
	}
}

func exploreTraces(env Env) Recommendation {
	return Recommendation{
		Title: "Explore traces in gastown-trace",
		Parts: []Part{
			p(fmt.Sprintf("gastown-trace is running at **%s** (PID %d).\n\n", env.TraceURL, env.TracePID) +
				"Key views:\n\n" +
				"- Session transcripts for alice, bob, and eve\n" +
				"- Bead lifecycle: issue open → in_progress → done\n" +
				"- Delegation chain: Mayor → polecats\n" +
				"- Cost breakdown per session\n" +
				"- Waterfall view of parallel work"),
		},
	}
}

func reviewDashboards(env Env) Recommendation {
	return Recommendation{
		Title: "Review Grafana dashboards",
		Parts: []Part{
			p(fmt.Sprintf("Open [Grafana](%s) (admin/admin) for pre-built dashboards.", env.GrafanaURL)),
			code(strings.Join([]string{
				"# bd calls per second",
				"rate(gastown_bd_calls_total[5m])",
				"",
				"# Polecat spawn rate",
				"increase(gastown_polecat_spawns_total[1h])",
				"",
				"# Token cost by model",
				"sum by (model)(bd_ai_input_tokens_total + bd_ai_output_tokens_total)",
			}, "\n"), "promql"),
		},
	}
}
