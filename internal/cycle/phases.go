package cycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gastown-tools/gtcycle/internal/poll"
	"github.com/gastown-tools/gtcycle/internal/recommend"
	"github.com/gastown-tools/gtcycle/internal/report"
	"github.com/gastown-tools/gtcycle/internal/shell"
)

// Phase bodies return an error only for faults worth failing the artifact
// over: a tool that could not be spawned, or an outcome the cycle treats as
// a failed stage (Mayor never ready, nudge rejected). Nonzero exits from
// reset commands are ordinary output; a convoy timeout is a result, not a
// fault.

func (c *Cycle) resetOtel(ctx context.Context, s *report.Session) error {
	s.P("Stops the docker-compose stack and removes all named volumes " +
		"so the next run starts with a completely clean telemetry slate.")

	s.H2("docker compose down")
	res, err := c.compose(ctx, "down")
	if err != nil {
		return err
	}
	s.Command("docker compose down", res.Output)

	s.H2("Remove volumes")
	volumes := []string{
		c.cfg.Otel.ComposeProject + "_vm-data",
		c.cfg.Otel.ComposeProject + "_vl-data",
		c.cfg.Otel.ComposeProject + "_grafana-data",
	}
	res, err = c.docker(ctx, append([]string{"volume", "rm"}, volumes...)...)
	if err != nil {
		return err
	}
	s.Command("docker volume rm "+strings.Join(volumes, " "), res.Output)

	res, err = c.docker(ctx, "volume", "ls", "--filter", "name="+c.cfg.Otel.ComposeProject)
	if err != nil {
		return err
	}
	s.Command("docker volume ls --filter name="+c.cfg.Otel.ComposeProject, res.Output)
	return nil
}

func (c *Cycle) resetGastown(ctx context.Context, s *report.Session) error {
	s.P("Stops the Mayor session so the next run starts clean.\n\n" +
		fmt.Sprintf("Global town root: `%s`", c.cfg.Town.Dir))

	s.H2("Mayor status before reset")
	res, err := c.gt(ctx, "mayor", "status")
	if err != nil {
		return err
	}
	s.Code(res.Output, "")

	s.H2("Stop Mayor")
	res, err = c.gt(ctx, "mayor", "stop")
	if err != nil {
		return err
	}
	s.Command("gt mayor stop", res.Output)
	return nil
}

func (c *Cycle) startOtel(ctx context.Context, s *report.Session) error {
	s.H2("docker compose up")
	res, err := c.compose(ctx, "up", "-d")
	if err != nil {
		return err
	}
	s.Command("docker compose up -d", res.Output)
	if res.ExitCode != 0 {
		s.Blockquote(fmt.Sprintf("⚠ docker compose up returned %d", res.ExitCode))
	}

	metricsOK, logsOK := c.tele.WaitBackends(ctx, c.healthRetries, c.healthDelay)

	s.H2("gastown-trace")
	daemon, err := c.runner.StartDaemon(shell.Cmd{
		Name: c.cfg.Otel.TraceBin(),
		Args: []string{"--logs", c.cfg.Otel.LogsURL, "--port", strconv.Itoa(c.cfg.Otel.TracePort)},
	}, filepath.Join(c.reportDir, "gastown-trace.log"))
	if err != nil {
		s.P(fmt.Sprintf("FAILED TO START: %v", err))
		return err
	}
	c.daemon = daemon
	c.run.TracePID = daemon.PID

	time.Sleep(c.traceGrace)
	alive := daemon.Alive()
	status := "running"
	if !alive {
		status = "FAILED TO START"
	}
	s.P(fmt.Sprintf("PID %d → %s — %s", daemon.PID, c.cfg.Otel.TraceURL(), status))

	s.H2("OTEL Environment")
	lines := make([]string, 0, len(c.cfg.TelemetryEnv()))
	for _, v := range c.cfg.TelemetryEnv() {
		lines = append(lines, v.Name+"="+v.Value)
	}
	s.Code(strings.Join(lines, "\n"), "")

	traceStatus := fmt.Sprintf("PID %d", daemon.PID)
	if !alive {
		traceStatus = "FAILED"
	}
	s.H2("Services Health")
	s.Table([]string{"Service", "URL", "Status"}, [][]string{
		{"VictoriaMetrics", c.cfg.Otel.MetricsURL + "/health", healthWord(metricsOK)},
		{"VictoriaLogs", c.cfg.Otel.LogsURL + "/health", healthWord(logsOK)},
		{"gastown-trace", c.cfg.Otel.TraceURL(), traceStatus},
		{"Grafana", c.cfg.Otel.GrafanaURL, "started (may take 10s)"},
	})
	return nil
}

func healthWord(ok bool) string {
	if ok {
		return "OK"
	}
	return "UNREACHABLE"
}

var errMayorNotReady = errors.New("mayor not confirmed running")

func (c *Cycle) startMayor(ctx context.Context, s *report.Session) error {
	s.P(fmt.Sprintf("Starting Mayor in global town: `%s`", c.cfg.Town.Dir))

	s.H2("gt mayor start")
	res, err := c.gt(ctx, "mayor", "start")
	if err != nil {
		return err
	}
	s.Command("gt mayor start", res.Output)

	s.H2("Waiting for Mayor")
	c.log.Info("Polling gt mayor status…")
	ready := false
	var last shell.Result
	for i := 0; i < c.mayorRetries; i++ {
		res, err := c.gt(ctx, "mayor", "status")
		if err != nil {
			return err
		}
		last = res
		out := strings.ToLower(res.Output)
		if res.ExitCode == 0 && (strings.Contains(out, "running") || strings.Contains(out, "active")) {
			ready = true
			c.log.Info("Mayor is running")
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.mayorDelay):
		}
	}

	s.Code(last.Output, "")
	if !ready {
		waited := time.Duration(c.mayorRetries) * c.mayorDelay
		s.Status(false, fmt.Sprintf("Mayor not ready after %ds", int(waited.Seconds())))
		return errMayorNotReady
	}
	s.Status(true, "Mayor running")
	return nil
}

func (c *Cycle) launchTest(ctx context.Context, s *report.Session) error {
	s.H2("Prompt Content")
	s.Write(c.wl.Body + "\n\n---\n\n")

	s.H2("Nudge delivery")
	res, err := c.gt(ctx, "nudge", "mayor", c.wl.Body)
	if err != nil {
		return err
	}
	s.Command(fmt.Sprintf("gt nudge mayor <%s content>", c.wl.PromptName()), res.Output)
	if res.ExitCode != 0 {
		s.Status(false, fmt.Sprintf("Nudge failed (rc=%d)", res.ExitCode))
		return fmt.Errorf("nudge returned %d", res.ExitCode)
	}
	s.Status(true, "Nudge delivered")
	return nil
}

func (c *Cycle) waitConvoy(ctx context.Context, s *report.Session) error {
	s.Blockquote(fmt.Sprintf("Polling every %ds, timeout %ds",
		int(c.pollInterval.Seconds()), int(c.pollTimeout.Seconds())))
	s.H2("Poll Log")

	pred := func() bool {
		res, err := c.gt(ctx, "convoy", "list", "--all", "--json")
		if err != nil || res.ExitCode != 0 {
			return false
		}
		return c.matcher.AnyLanded([]byte(res.Output))
	}

	outcome := poll.Wait(ctx, pred, c.pollInterval, c.pollTimeout,
		func(elapsed time.Duration, landed bool) {
			now := c.now().Format("15:04:05")
			secs := int(elapsed.Seconds())
			if landed {
				c.log.Info("Convoy LANDED ✓")
				s.Write(fmt.Sprintf("- `%s` [%ds] — **LANDED** ✓\n", now, secs))
				return
			}
			c.log.Info(fmt.Sprintf("[%d/%ds] Convoy not yet landed…",
				secs, int(c.pollTimeout.Seconds())))
			s.Write(fmt.Sprintf("- `%s` [%ds] — open\n", now, secs))
		})
	c.run.Landed = outcome.Landed
	c.run.Elapsed = outcome.Elapsed

	s.H2("Convoy Status")
	res, err := c.gt(ctx, "convoy", "list", "--all")
	if err != nil {
		return err
	}
	s.Code(res.Output, "")

	s.H2("Doctor")
	res, err = c.gt(ctx, "doctor")
	if err != nil {
		return err
	}
	s.Code(res.Output, "")

	s.H2("Recent Agent Activity")
	res, err = c.gt(ctx, "trail", "commits", "--limit", "20")
	if err != nil {
		return err
	}
	s.Code(res.Output, "")

	if outcome.Landed {
		s.Blockquote(fmt.Sprintf("Convoy **LANDED** ✓ after %ds", int(outcome.Elapsed.Seconds())))
	} else {
		s.Blockquote(fmt.Sprintf("⚠ Timeout after %ds — convoy still open", int(outcome.Elapsed.Seconds())))
	}
	return nil
}

func (c *Cycle) collectOtel(ctx context.Context, s *report.Session) error {
	for _, group := range c.catalog.MetricGroups {
		s.H2(group.Title)
		blocks := make([]string, 0, len(group.Queries))
		for _, q := range group.Queries {
			blocks = append(blocks, q.Label+":\n"+c.tele.QueryFormatted(q.Query))
		}
		s.Code(strings.Join(blocks, "\n\n"), "")
	}

	s.H2(c.catalog.LogCounts.Title)
	rows := make([][]string, 0, len(c.catalog.LogCounts.Queries))
	for _, q := range c.catalog.LogCounts.Queries {
		count := "?"
		if n := c.tele.CountMatches(q.Query); n >= 0 {
			count = strconv.Itoa(n)
		}
		rows = append(rows, []string{q.Label, count})
	}
	s.Table([]string{"Event type", "Count"}, rows)

	logsURL := c.cfg.Otel.LogsURL
	s.H2("Explore Further")
	s.Table([]string{"What", "URL"}, [][]string{
		{"All gastown events", logsURL + "/select/vmui/#/?query=service_name%3Agastown"},
		{"Live-tail", logsURL + "/select/vmui/#/?query=service_name%3Agastown&view=liveTailing"},
		{"Errors", logsURL + "/select/vmui/#/?query=service_name%3Agastown%20AND%20level%3Aerror"},
		{"Claude Code", logsURL + "/select/vmui/#/?query=service.name%3Aclaude-code"},
		{"Metrics VMUI", c.cfg.Otel.MetricsURL + "/vmui/#/?query=gastown_bd_calls_total"},
		{"Grafana", c.cfg.Otel.GrafanaURL},
		{"gastown-trace", c.cfg.Otel.TraceURL()},
	})
	return nil
}

func (c *Cycle) recommendations(ctx context.Context, s *report.Session) error {
	errorCount := c.tele.CountMatches("service_name:gastown AND level:error")
	sessionStarts := c.tele.QueryScalar("sum(gastown_session_starts_total)")
	polecatSpawns := c.tele.QueryScalar("sum(gastown_polecat_spawns_total)")
	inputTokens := c.tele.QueryScalar("sum(bd_ai_input_tokens_total)")
	outputTokens := c.tele.QueryScalar("sum(bd_ai_output_tokens_total)")
	totalElapsed := int(c.now().Sub(c.testStart).Seconds())

	c.run.Errors = errorCount
	c.run.SessionStarts = int(sessionStarts)
	c.run.PolecatSpawns = int(polecatSpawns)
	c.run.InputTokens = int(inputTokens)
	c.run.OutputTokens = int(outputTokens)

	landedCell := "Yes ✓"
	if !c.run.Landed {
		landedCell = fmt.Sprintf("No (timeout at %ds)", int(c.run.Elapsed.Seconds()))
	}
	errCell := "?"
	if errorCount >= 0 {
		errCell = strconv.Itoa(errorCount)
	}
	s.H2("Run Summary")
	s.Table([]string{"Metric", "Value"}, [][]string{
		{"Convoy landed", landedCell},
		{"Total test duration", fmt.Sprintf("%ds", totalElapsed)},
		{"Claude sessions started", strconv.Itoa(int(sessionStarts))},
		{"Polecats spawned", strconv.Itoa(int(polecatSpawns))},
		{"Input tokens", humanize.Comma(int64(inputTokens))},
		{"Output tokens", humanize.Comma(int64(outputTokens))},
		{"Errors in logs", errCell},
	})

	snap := recommend.Snapshot{
		Landed:        c.run.Landed,
		Elapsed:       int(c.run.Elapsed.Seconds()),
		TotalElapsed:  totalElapsed,
		Errors:        errorCount,
		SessionStarts: sessionStarts,
		PolecatSpawns: polecatSpawns,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
	}

	s.H2("Recommendations")
	for i, rec := range recommend.Derive(snap, c.recommendEnv()) {
		s.H3(fmt.Sprintf("%d. %s", i+1, rec.Title))
		for _, part := range rec.Parts {
			if part.Kind == recommend.CodeBlock {
				s.Code(part.Text, part.Lang)
			} else {
				s.P(part.Text)
			}
		}
	}

	s.Write(fmt.Sprintf("\n---\n\n*Generated by `gtcycle run` — %s*\n",
		c.now().Format("2006-01-02 15:04:05")))
	return nil
}

// recommendEnv gathers the run-environment facts the recommendation
// bodies mention, applying workload frontmatter overrides.
func (c *Cycle) recommendEnv() recommend.Env {
	title := c.cfg.Convoy.Title
	if c.wl.Meta.ConvoyTitle != "" {
		title = c.wl.Meta.ConvoyTitle
	}
	expected := c.cfg.Workload.ExpectedPolecats
	if c.wl.Meta.ExpectedPolecats > 0 {
		expected = c.wl.Meta.ExpectedPolecats
	}
	names := c.cfg.Workload.Polecats
	if len(c.wl.Meta.Polecats) > 0 {
		names = c.wl.Meta.Polecats
	}
	return recommend.Env{
		TownDir:          c.cfg.Town.Dir,
		LogsURL:          c.cfg.Otel.LogsURL,
		GrafanaURL:       c.cfg.Otel.GrafanaURL,
		TraceURL:         c.cfg.Otel.TraceURL(),
		TracePID:         c.run.TracePID,
		TimeoutSeconds:   int(c.pollTimeout.Seconds()),
		ExpectedPolecats: expected,
		PolecatNames:     names,
		PromptName:       c.wl.PromptName(),
		ConvoyTitle:      title,
		TokenThreshold:   recommend.DefaultTokenThreshold,
	}
}
