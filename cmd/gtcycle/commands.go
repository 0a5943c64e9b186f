package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gastown-tools/gtcycle/internal/config"
	"github.com/gastown-tools/gtcycle/internal/cycle"
	"github.com/gastown-tools/gtcycle/internal/history"
	"github.com/gastown-tools/gtcycle/internal/logging"
	"github.com/gastown-tools/gtcycle/internal/notify"
	"github.com/gastown-tools/gtcycle/internal/queries"
	"github.com/gastown-tools/gtcycle/internal/schedule"
	"github.com/gastown-tools/gtcycle/internal/watch"
	"github.com/gastown-tools/gtcycle/internal/workload"
	"github.com/gastown-tools/gtcycle/web/api"
)

var (
	runPrompt       string
	runTimeout      int
	runTown         string
	runReports      string
	historyLimit    int
	historyWorkload string
	historyJSON     bool
	watchPrompt     string
	watchDebounce   time.Duration
	scheduleCron    string
	servePort       int
	envExport       bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full test cycle",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt file (overrides config)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "convoy timeout in seconds (overrides config)")
	runCmd.Flags().StringVar(&runTown, "town", "", "global town root (overrides config)")
	runCmd.Flags().StringVar(&runReports, "reports", "", "report bundle root (overrides config)")
	rootCmd.AddCommand(runCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List past runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyCmd.Flags().StringVar(&historyWorkload, "workload", "", "filter by workload fingerprint")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(historyCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Rerun the cycle whenever the prompt file changes",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&watchPrompt, "prompt", "", "prompt file (overrides config)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "settle time after the last write")
	rootCmd.AddCommand(watchCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run cycles on a cron schedule",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "five-field cron expression")
	scheduleCmd.MarkFlagRequired("cron")
	rootCmd.AddCommand(scheduleCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve report bundles and run history over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	// env command
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Print the telemetry environment as shell exports",
		RunE:  runEnv,
	}
	envCmd.Flags().BoolVar(&envExport, "export", true, "prefix lines with export (--export=false for plain K=V)")
	rootCmd.AddCommand(envCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// promptPath resolves the prompt file: flag override first, config second.
func promptPath(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	return cfg.Workload.PromptFile
}

// openStore opens the run-history database, creating its directory on
// first use.
func openStore(cfg *config.Config) (*history.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.History.DatabasePath), 0o755); err != nil {
		return nil, err
	}
	return history.New(cfg.History.DatabasePath)
}

// buildNotifier assembles the configured notification targets. No targets
// configured means run completions stay silent.
func buildNotifier(cfg *config.Config) notify.Notifier {
	var targets []notify.Notifier
	if cfg.Notifications.Desktop {
		targets = append(targets, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		targets = append(targets, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(targets) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(targets...)
}

// newCycle loads the workload fresh and assembles a cycle around it. Watch
// and schedule call this once per run so prompt edits take effect.
func newCycle(cfg *config.Config, prompt string, store *history.Store, log *zap.Logger) (*cycle.Cycle, error) {
	wl, err := workload.Load(prompt)
	if err != nil {
		return nil, err
	}

	catalog := queries.Default()
	if cfg.Queries.Catalog != "" {
		catalog, err = queries.Load(cfg.Queries.Catalog)
		if err != nil {
			return nil, err
		}
	}

	return cycle.New(cycle.Options{
		Config:   cfg,
		Workload: wl,
		Catalog:  &catalog,
		Store:    store,
		Notifier: buildNotifier(cfg),
		Logger:   log,
	}), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runTimeout > 0 {
		cfg.Convoy.TimeoutSeconds = runTimeout
	}
	if runTown != "" {
		cfg.Town.Dir = config.ExpandPath(runTown)
	}
	if runReports != "" {
		cfg.Reports.Dir = config.ExpandPath(runReports)
	}

	log := logging.NewConsole()

	// History is best effort: a broken database must not block a run.
	store, err := openStore(cfg)
	if err != nil {
		log.Warn(fmt.Sprintf("History unavailable: %v", err))
	} else {
		defer store.Close()
	}

	c, err := newCycle(cfg, promptPath(cfg, runPrompt), store, log)
	if err != nil {
		return err
	}
	return c.Run(context.Background())
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(store, args[0])
	}

	runs, err := store.ListRuns(history.ListOptions{
		WorkloadID: historyWorkload,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}

	if historyJSON {
		responses := make([]api.RunResponse, len(runs))
		for i, r := range runs {
			responses[i] = api.RunToResponse(r, false)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(responses)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKLOAD\tLANDED\tELAPSED\tPOLECATS\tERRORS\tSTARTED")
	for _, r := range runs {
		landed := "no"
		if r.Landed {
			landed = "yes"
		}
		if r.FinishedAt == nil {
			landed = "running"
		}
		errs := strconv.Itoa(r.Errors)
		if r.Errors < 0 {
			errs = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%ds\t%d\t%s\t%s\n",
			r.ID, r.WorkloadName, landed, int(r.Elapsed.Seconds()),
			r.PolecatSpawns, errs, r.StartedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	return nil
}

func showRun(store *history.Store, id string) error {
	r, err := store.GetRun(id)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(api.RunToResponse(r, true))
	}

	fmt.Printf("Run %s — %s\n", r.ID, r.WorkloadName)
	fmt.Printf("  Prompt:   %s\n", r.PromptFile)
	fmt.Printf("  Reports:  %s\n", r.ReportDir)
	fmt.Printf("  Started:  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	if r.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if r.Landed {
		fmt.Printf("  Convoy:   landed after %ds\n", int(r.Elapsed.Seconds()))
	} else {
		fmt.Printf("  Convoy:   did not land (timeout %ds)\n", int(r.Timeout.Seconds()))
	}
	fmt.Printf("  Activity: %d sessions | %d polecats | %s in / %s out tokens\n",
		r.SessionStarts, r.PolecatSpawns,
		humanize.Comma(int64(r.InputTokens)), humanize.Comma(int64(r.OutputTokens)))
	if r.Errors >= 0 {
		fmt.Printf("  Errors:   %d\n", r.Errors)
	}

	if len(r.Phases) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tARTIFACT\tRESULT\tTOOK")
	for _, p := range r.Phases {
		result := "ok"
		if !p.OK {
			result = "FAILED"
		}
		took := p.FinishedAt.Sub(p.StartedAt).Round(time.Second)
		fmt.Fprintf(w, "%d %s\t%s\t%s\t%s\n", p.Seq, p.Name, p.Artifact, result, took)
	}
	w.Flush()

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.NewConsole()
	prompt := promptPath(cfg, watchPrompt)
	if _, err := os.Stat(prompt); err != nil {
		return fmt.Errorf("prompt file not found: %s", prompt)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Warn(fmt.Sprintf("History unavailable: %v", err))
	} else {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One run at a time. Saves during a run collapse into a single
	// follow-up run once the current one finishes.
	var mu sync.Mutex
	running := false
	pending := false
	runOnce := func() {
		mu.Lock()
		if running {
			pending = true
			mu.Unlock()
			log.Info("Run in flight, queuing a follow-up")
			return
		}
		running = true
		mu.Unlock()

		for {
			c, err := newCycle(cfg, prompt, store, log)
			if err != nil {
				log.Error(fmt.Sprintf("Load workload: %v", err))
			} else if err := c.Run(ctx); err != nil {
				log.Error(fmt.Sprintf("Cycle failed: %v", err))
			}

			mu.Lock()
			if !pending || ctx.Err() != nil {
				running = false
				mu.Unlock()
				return
			}
			pending = false
			mu.Unlock()
			log.Info("Prompt changed during the run, starting follow-up")
		}
	}

	w, err := watch.New(func(paths []string) {
		go runOnce()
	})
	if err != nil {
		return err
	}
	defer w.Stop()
	if watchDebounce > 0 {
		w.SetDebounce(watchDebounce)
	}
	if err := w.AddFile(prompt); err != nil {
		return err
	}
	w.Start(ctx)

	log.Info(fmt.Sprintf("Watching %s — save to start a run, Ctrl-C to stop", prompt))
	runOnce()

	<-ctx.Done()
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.NewConsole()
	sched, err := schedule.New(scheduleCron, log)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Warn(fmt.Sprintf("History unavailable: %v", err))
	} else {
		defer store.Close()
	}

	runFunc := func() error {
		c, err := newCycle(cfg, cfg.Workload.PromptFile, store, log)
		if err != nil {
			return err
		}
		return c.Run(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	log.Info(fmt.Sprintf("Schedule %q — next run %s", sched.Expr(),
		sched.NextRun().Format("2006-01-02 15:04")))
	sched.Start(30*time.Second, runFunc)

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server := api.NewServer(store, cfg.Reports.Dir, addr, logging.NewConsole())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Start(ctx)
}

func runEnv(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	for _, v := range cfg.TelemetryEnv() {
		if envExport {
			fmt.Printf("export %s=%q\n", v.Name, v.Value)
		} else {
			fmt.Printf("%s=%s\n", v.Name, v.Value)
		}
	}
	return nil
}
