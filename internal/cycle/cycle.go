// Package cycle drives the eight-phase Gastown test cycle: reset the
// telemetry stack, reset the town, bring both up, hand the workload prompt
// to the Mayor, and wait for the convoy to land before collecting metrics,
// log counts, and recommendations.
//
// Every phase writes one Markdown artifact into a timestamped bundle
// directory. Phases are isolated: a failing phase closes its artifact with
// a failed status and the run continues, so a timeout in one stage still
// yields a complete bundle. Only preflight aborts the cycle.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/gastown-tools/gtcycle/internal/config"
	"github.com/gastown-tools/gtcycle/internal/convoy"
	"github.com/gastown-tools/gtcycle/internal/domain"
	"github.com/gastown-tools/gtcycle/internal/history"
	"github.com/gastown-tools/gtcycle/internal/logging"
	"github.com/gastown-tools/gtcycle/internal/notify"
	"github.com/gastown-tools/gtcycle/internal/queries"
	"github.com/gastown-tools/gtcycle/internal/report"
	"github.com/gastown-tools/gtcycle/internal/shell"
	"github.com/gastown-tools/gtcycle/internal/telemetry"
	"github.com/gastown-tools/gtcycle/internal/workload"
)

// Runner executes external commands. shell.Runner satisfies it; tests
// substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, c shell.Cmd) (shell.Result, error)
	StartDaemon(c shell.Cmd, logPath string) (*shell.Daemon, error)
}

// Querier answers telemetry queries. telemetry.Client satisfies it.
type Querier interface {
	QueryFormatted(expr string) string
	QueryScalar(expr string) float64
	CountMatches(expr string) int
	WaitBackends(ctx context.Context, retries int, delay time.Duration) (metricsOK, logsOK bool)
}

// Options assembles a Cycle. Config and Workload are required; nil
// collaborators fall back to the production implementations.
type Options struct {
	Config   *config.Config
	Workload *workload.Workload
	Catalog  *queries.Catalog
	Runner   Runner
	Querier  Querier
	Store    *history.Store
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Cycle runs one full test cycle and records its outcome.
type Cycle struct {
	cfg      *config.Config
	wl       *workload.Workload
	catalog  queries.Catalog
	matcher  convoy.Matcher
	runner   Runner
	tele     Querier
	store    *history.Store
	notifier notify.Notifier
	log      *zap.Logger
	out      io.Writer

	now       func() time.Time
	newLogger func(logFile string) (*zap.Logger, func(), error)
	lookPath  func(file string) (string, error)

	traceGrace    time.Duration
	mayorRetries  int
	mayorDelay    time.Duration
	healthRetries int
	healthDelay   time.Duration
	pollInterval  time.Duration
	pollTimeout   time.Duration

	run       *domain.Run
	reportDir string
	daemon    *shell.Daemon
	testStart time.Time
}

func New(opts Options) *Cycle {
	cfg := opts.Config
	c := &Cycle{
		cfg:      cfg,
		wl:       opts.Workload,
		runner:   opts.Runner,
		tele:     opts.Querier,
		store:    opts.Store,
		notifier: opts.Notifier,
		log:      opts.Logger,
		out:      os.Stdout,

		now:       time.Now,
		newLogger: logging.New,
		lookPath:  exec.LookPath,

		traceGrace:    2 * time.Second,
		mayorRetries:  30,
		mayorDelay:    2 * time.Second,
		healthRetries: telemetry.HealthRetries,
		healthDelay:   telemetry.HealthDelay,
		pollInterval:  cfg.Convoy.Poll(),
		pollTimeout:   cfg.Convoy.Timeout(),
	}
	if c.log == nil {
		c.log = logging.NewConsole()
	}
	if opts.Catalog != nil {
		c.catalog = *opts.Catalog
	} else {
		c.catalog = queries.Default()
	}
	if c.runner == nil {
		c.runner = shell.New()
	}
	if c.tele == nil {
		c.tele = telemetry.NewClient(cfg.Otel.MetricsURL, cfg.Otel.LogsURL, c.log)
	}
	if c.notifier == nil {
		c.notifier = notify.NoopNotifier{}
	}
	c.matcher = matcherFor(cfg, opts.Workload)
	return c
}

// matcherFor merges the configured landing detection with any overrides
// from the workload's frontmatter.
func matcherFor(cfg *config.Config, wl *workload.Workload) convoy.Matcher {
	m := convoy.Matcher{
		Keywords: cfg.Convoy.Keywords,
		Statuses: cfg.Convoy.LandedStatuses,
	}
	if len(wl.Meta.ConvoyKeywords) > 0 {
		m.Keywords = wl.Meta.ConvoyKeywords
	}
	if len(wl.Meta.LandedStatuses) > 0 {
		m.Statuses = wl.Meta.LandedStatuses
	}
	return m
}

// Run executes the cycle end to end. The returned error is non-nil only
// for preflight or report-directory failures; phase failures are recorded
// in the bundle and the run history instead.
func (c *Cycle) Run(ctx context.Context) error {
	if err := c.preflight(); err != nil {
		return err
	}

	runID := c.now().Format("20060102-150405")
	c.reportDir = filepath.Join(c.cfg.Reports.Dir, runID)
	if err := os.MkdirAll(c.reportDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if log, stop, err := c.newLogger(filepath.Join(c.reportDir, "run.log")); err == nil {
		c.log = log
		defer stop()
	} else {
		c.log.Warn(fmt.Sprintf("log file unavailable, console only: %v", err))
	}

	c.linkLatest()
	c.log.Info("Reports: " + c.reportDir)
	c.log.Info("Symlink: " + filepath.Join(c.cfg.Reports.Dir, "latest"))

	// gastown-trace is meant to outlive the run, so interrupts do not tear
	// anything down. They only acknowledge what stays behind.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			pid := "?"
			if c.daemon != nil {
				pid = strconv.Itoa(c.daemon.PID)
			}
			fmt.Fprintf(c.out, "\ngastown-trace (PID %s) left running.\n", pid)
		}
	}()

	c.run = &domain.Run{
		ID:           runID,
		WorkloadID:   c.wl.Fingerprint(),
		WorkloadName: c.wl.Meta.Name,
		PromptFile:   c.wl.Path,
		ReportDir:    c.reportDir,
		StartedAt:    c.now(),
		Timeout:      c.pollTimeout,
		Errors:       -1,
	}
	if c.store != nil {
		if err := c.store.CreateRun(c.run); err != nil {
			c.log.Warn(fmt.Sprintf("history: record run: %v", err))
		}
	}

	c.runPhase(ctx, 1, "PHASE 1 — Reset OpenTelemetry", c.resetOtel)
	c.runPhase(ctx, 2, "PHASE 2 — Reset Gastown", c.resetGastown)
	c.runPhase(ctx, 3, "PHASE 3 — Start OTEL stack + gastown-trace", c.startOtel)
	c.writeRunReadme()

	if ok := c.runPhase(ctx, 4, "PHASE 4 — Init Gastown + start Mayor", c.startMayor); !ok {
		c.log.Warn("WARNING: Mayor not confirmed running — continuing anyway")
	}

	c.testStart = c.now()
	c.runPhase(ctx, 5, fmt.Sprintf("PHASE 5 — Inject %s → Mayor", c.wl.PromptName()), c.launchTest)
	c.runPhase(ctx, 6, fmt.Sprintf("PHASE 6 — Waiting for convoy (timeout: %ds)",
		int(c.pollTimeout.Seconds())), c.waitConvoy)
	c.runPhase(ctx, 7, "PHASE 7 — Collect OTEL metrics + logs", c.collectOtel)
	c.runPhase(ctx, 8, "PHASE 8 — Recommendations", c.recommendations)

	c.finishRun()
	c.summary()
	return nil
}

// runPhase opens the phase's artifact, runs fn inside the guarded report
// session, and records the outcome. Failures never propagate.
func (c *Cycle) runPhase(ctx context.Context, seq int, banner string, fn func(context.Context, *report.Session) error) bool {
	spec := domain.Phases[seq-1]
	c.section(banner)

	started := c.now()
	ok := report.Run(filepath.Join(c.reportDir, spec.Artifact), spec.ReportTitle(), c.log,
		func(s *report.Session) error { return fn(ctx, s) })

	result := domain.PhaseResult{
		Seq:        seq,
		Name:       spec.Title,
		Artifact:   spec.Artifact,
		OK:         ok,
		StartedAt:  started,
		FinishedAt: c.now(),
	}
	c.run.Phases = append(c.run.Phases, result)
	if c.store != nil {
		if err := c.store.RecordPhase(c.run.ID, result); err != nil {
			c.log.Warn(fmt.Sprintf("history: record phase %d: %v", seq, err))
		}
	}
	return ok
}

func (c *Cycle) finishRun() {
	now := c.now()
	c.run.FinishedAt = &now
	if c.store != nil {
		if err := c.store.FinishRun(c.run); err != nil {
			c.log.Warn(fmt.Sprintf("history: finish run: %v", err))
		}
	}
	if err := c.notifier.Send(notify.ForRun(c.run)); err != nil {
		c.log.Warn(fmt.Sprintf("notify: %v", err))
	}
}

// linkLatest refreshes the reports/latest symlink. Failure is cosmetic.
func (c *Cycle) linkLatest() {
	link := filepath.Join(c.cfg.Reports.Dir, "latest")
	os.Remove(link)
	if err := os.Symlink(c.reportDir, link); err != nil {
		c.log.Warn(fmt.Sprintf("symlink latest: %v", err))
	}
}

var (
	sectionBar   = strings.Repeat("═", 52)
	sectionStyle = lipgloss.NewStyle().Bold(true)
)

func (c *Cycle) section(name string) {
	c.log.Info("══ " + name)
	fmt.Fprintf(c.out, "\n%s\n  %s\n%s\n\n", sectionBar, sectionStyle.Render(name), sectionBar)
}

// summary prints the closing console block. It always lists every
// artifact; the bundle is complete even when phases inside it failed.
func (c *Cycle) summary() {
	c.section("DONE")
	fmt.Fprintf(c.out, "Reports: %s/\n", c.reportDir)
	fmt.Fprintf(c.out, "Symlink: %s\n\n", filepath.Join(c.cfg.Reports.Dir, "latest"))
	for _, spec := range domain.Phases {
		fmt.Fprintf(c.out, "  %-25s— %s\n", spec.Artifact, spec.Summary)
	}
	fmt.Fprintln(c.out)
	pid := "?"
	if c.daemon != nil {
		pid = strconv.Itoa(c.daemon.PID)
	}
	fmt.Fprintf(c.out, "gastown-trace: %s  (PID %s — still running)\n", c.cfg.Otel.TraceURL(), pid)
	fmt.Fprintf(c.out, "Grafana:       %s\n\n", c.cfg.Otel.GrafanaURL)
}

// writeRunReadme writes the bundle's index README once the stack is up, so
// the links are useful while the test is still in flight.
func (c *Cycle) writeRunReadme() {
	s, err := report.Open(filepath.Join(c.reportDir, "README.md"), "Gastown Test Run — "+c.run.ID)
	if err != nil {
		c.log.Warn(fmt.Sprintf("write run README: %v", err))
		return
	}

	s.H2("Overview")
	s.P("Full test cycle: OTEL reset → Gastown reset → stack start → test suite → recommendations.")

	s.H2("Reports")
	rows := make([][]string, 0, len(domain.Phases))
	for _, spec := range domain.Phases {
		label := spec.Index
		if spec.Seq == 5 {
			label = fmt.Sprintf("Launch test suite (%s → Mayor)", c.wl.PromptName())
		}
		rows = append(rows, []string{
			strconv.Itoa(spec.Seq),
			fmt.Sprintf("[%s](%s)", spec.Artifact, spec.Artifact),
			label,
		})
	}
	s.Table([]string{"#", "File", "Phase"}, rows)

	s.H2("Quick Links")
	s.Table([]string{"Service", "URL"}, [][]string{
		{"gastown-trace", c.cfg.Otel.TraceURL()},
		{"Grafana", c.cfg.Otel.GrafanaURL + " (admin/admin)"},
		{"VictoriaMetrics VMUI", c.cfg.Otel.MetricsURL + "/vmui/"},
		{"VictoriaLogs live-tail", c.cfg.Otel.LogsURL + "/select/vmui/#/?query=service_name%3Agastown&view=liveTailing"},
	})

	s.Write(fmt.Sprintf("\ngastown-trace PID: %d\n", c.run.TracePID))
	if err := s.Close(true); err != nil {
		c.log.Warn(fmt.Sprintf("write run README: %v", err))
	}
}

// preflight verifies the external tools and inputs. It is the only fatal
// check; everything after it degrades into failed phases instead.
func (c *Cycle) preflight() error {
	var problems []error
	for _, tool := range []string{"docker", "git", "gt"} {
		if _, err := c.lookPath(tool); err != nil {
			problems = append(problems, fmt.Errorf("command not found: %s", tool))
		}
	}
	if _, err := os.Stat(c.wl.Path); err != nil {
		problems = append(problems, fmt.Errorf("prompt file not found: %s", c.wl.Path))
	}
	if _, err := os.Stat(c.cfg.Otel.TraceBin()); err != nil {
		problems = append(problems, fmt.Errorf("gastown-trace binary not found: %s", c.cfg.Otel.TraceBin()))
	}
	if len(problems) > 0 {
		return fmt.Errorf("preflight: %w", errors.Join(problems...))
	}
	return nil
}

// gt runs a gt subcommand from the town root with the OTEL environment
// applied, so every agent the Mayor spawns inherits telemetry export.
func (c *Cycle) gt(ctx context.Context, args ...string) (shell.Result, error) {
	return c.runner.Run(ctx, shell.Cmd{
		Name: "gt",
		Args: args,
		Dir:  c.cfg.Town.Dir,
		Env:  c.cfg.TelemetryEnviron(),
	})
}

// compose runs docker compose against the stack's compose file. The
// project name comes from the compose file itself; it is only needed
// Go-side for volume names.
func (c *Cycle) compose(ctx context.Context, args ...string) (shell.Result, error) {
	return c.runner.Run(ctx, shell.Cmd{
		Name: "docker",
		Args: append([]string{"compose", "-f", c.cfg.Otel.ComposeFile()}, args...),
	})
}

func (c *Cycle) docker(ctx context.Context, args ...string) (shell.Result, error) {
	return c.runner.Run(ctx, shell.Cmd{Name: "docker", Args: args})
}
