package config

import "os"

// EnvVar is one telemetry environment variable. Order is significant: the
// block is rendered verbatim into reports and export scripts.
type EnvVar struct {
	Name  string
	Value string
}

// TelemetryEnv returns the OTEL environment injected into every gt and bd
// command. Names and values are part of the external contract: the Mayor
// session only inherits telemetry wiring if these are exported before
// `gt mayor start`.
func (c *Config) TelemetryEnv() []EnvVar {
	metricsPush := c.Otel.MetricsURL + "/opentelemetry/api/v1/push"
	logsInsert := c.Otel.LogsURL + "/insert/opentelemetry/v1/logs"

	return []EnvVar{
		{"GT_OTEL_METRICS_URL", metricsPush},
		{"GT_OTEL_LOGS_URL", logsInsert},
		{"BD_OTEL_METRICS_URL", metricsPush},
		{"BD_OTEL_LOGS_URL", logsInsert},
		{"CLAUDE_CODE_ENABLE_TELEMETRY", "1"},
		{"OTEL_METRICS_EXPORTER", "otlp"},
		{"OTEL_METRIC_EXPORT_INTERVAL", "1000"},
		{"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", metricsPush},
		{"OTEL_EXPORTER_OTLP_METRICS_PROTOCOL", "http/protobuf"},
		{"OTEL_LOGS_EXPORTER", "otlp"},
		{"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", logsInsert},
		{"OTEL_EXPORTER_OTLP_LOGS_PROTOCOL", "http/protobuf"},
		{"OTEL_LOG_TOOL_DETAILS", "true"},
		{"OTEL_LOG_TOOL_CONTENT", "true"},
		{"OTEL_LOG_USER_PROMPTS", "true"},
	}
}

// TelemetryEnviron returns the ambient environment plus the telemetry block,
// in the form exec.Cmd expects.
func (c *Config) TelemetryEnviron() []string {
	env := os.Environ()
	for _, v := range c.TelemetryEnv() {
		env = append(env, v.Name+"="+v.Value)
	}
	return env
}
