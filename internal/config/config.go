package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Town          TownConfig          `toml:"town"`
	Workload      WorkloadConfig      `toml:"workload"`
	Otel          OtelConfig          `toml:"otel"`
	Convoy        ConvoyConfig        `toml:"convoy"`
	Reports       ReportsConfig       `toml:"reports"`
	History       HistoryConfig       `toml:"history"`
	Queries       QueriesConfig       `toml:"queries"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// TownConfig locates the global Gastown town root. All gt commands run from
// there so routing stays correct.
type TownConfig struct {
	Dir string `toml:"dir"`
}

// WorkloadConfig holds test-workload settings
type WorkloadConfig struct {
	PromptFile       string   `toml:"prompt_file"`
	ExpectedPolecats int      `toml:"expected_polecats"`
	Polecats         []string `toml:"polecats"`
}

// OtelConfig holds the observability stack settings
type OtelConfig struct {
	Dir            string `toml:"dir"`
	ComposeProject string `toml:"compose_project"`
	MetricsURL     string `toml:"metrics_url"`
	LogsURL        string `toml:"logs_url"`
	GrafanaURL     string `toml:"grafana_url"`
	TracePort      int    `toml:"trace_port"`
}

// ComposeFile returns the docker-compose file path inside the stack checkout.
func (c OtelConfig) ComposeFile() string {
	return filepath.Join(c.Dir, "docker-compose.yml")
}

// TraceBin returns the gastown-trace binary path inside the stack checkout.
func (c OtelConfig) TraceBin() string {
	return filepath.Join(c.Dir, "gastown-trace", "gastown-trace")
}

// TraceURL returns the local gastown-trace viewer URL.
func (c OtelConfig) TraceURL() string {
	return fmt.Sprintf("http://localhost:%d", c.TracePort)
}

// ConvoyConfig controls convoy-landing detection
type ConvoyConfig struct {
	Title          string   `toml:"title"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	PollSeconds    int      `toml:"poll_seconds"`
	Keywords       []string `toml:"keywords"`
	LandedStatuses []string `toml:"landed_statuses"`
}

func (c ConvoyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ConvoyConfig) Poll() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// ReportsConfig holds report-bundle settings
type ReportsConfig struct {
	Dir string `toml:"dir"`
}

// HistoryConfig holds run-history settings
type HistoryConfig struct {
	DatabasePath string `toml:"database_path"`
}

// QueriesConfig optionally overrides the built-in query catalog
type QueriesConfig struct {
	Catalog string `toml:"catalog"`
}

// WebConfig holds report-server settings
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NotificationsConfig holds run-completion notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Town: TownConfig{
			Dir: filepath.Join(home, "gt"),
		},
		Workload: WorkloadConfig{
			PromptFile:       "PROMPT1.md",
			ExpectedPolecats: 3,
			Polecats:         []string{"alice", "bob", "eve"},
		},
		Otel: OtelConfig{
			Dir:            filepath.Join(home, "dev", "third-party", "gastown-otel"),
			ComposeProject: "gastown-otel",
			MetricsURL:     "http://localhost:8428",
			LogsURL:        "http://localhost:9428",
			GrafanaURL:     "http://localhost:9429",
			TracePort:      7428,
		},
		Convoy: ConvoyConfig{
			Title:          "The Crypto Tales",
			TimeoutSeconds: 3600,
			PollSeconds:    30,
			Keywords:       []string{"crypto", "tales"},
			LandedStatuses: []string{"closed", "landed"},
		},
		Reports: ReportsConfig{
			Dir: "reports",
		},
		History: HistoryConfig{
			DatabasePath: filepath.Join(home, ".local", "share", "gtcycle", "history.db"),
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8430,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Environment overrides (GASTOWN_OTEL_DIR, CONVOY_TIMEOUT) win over both.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg.finish()
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg.finish()
}

// finish applies environment overrides and expands paths.
func (c *Config) finish() (*Config, error) {
	if dir := os.Getenv("GASTOWN_OTEL_DIR"); dir != "" {
		c.Otel.Dir = dir
	}
	if v := os.Getenv("CONVOY_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse CONVOY_TIMEOUT: %w", err)
		}
		c.Convoy.TimeoutSeconds = secs
	}

	c.Town.Dir = ExpandPath(c.Town.Dir)
	c.Workload.PromptFile = ExpandPath(c.Workload.PromptFile)
	c.Otel.Dir = ExpandPath(c.Otel.Dir)
	c.Reports.Dir = ExpandPath(c.Reports.Dir)
	c.History.DatabasePath = ExpandPath(c.History.DatabasePath)
	c.Queries.Catalog = ExpandPath(c.Queries.Catalog)

	return c, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gtcycle", "config.toml")
}
