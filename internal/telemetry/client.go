// Package telemetry queries the run's observability backends: instant
// PromQL against VictoriaMetrics and LogsQL counts against VictoriaLogs.
// Backend unavailability is absorbed into sentinel results; the cycle never
// fails because a backend is down.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// queryLimit caps LogsQL result sets; counts saturate there.
	queryLimit = "10000"

	// HealthRetries and HealthDelay shape the phase-3 readiness waits.
	HealthRetries = 30
	HealthDelay   = 2 * time.Second
)

// Client issues read-only queries against the metrics and log stores.
type Client struct {
	metricsURL string
	logsURL    string
	httpc      *http.Client
	log        *zap.Logger
}

func NewClient(metricsURL, logsURL string, log *zap.Logger) *Client {
	return &Client{
		metricsURL: strings.TrimRight(metricsURL, "/"),
		logsURL:    strings.TrimRight(logsURL, "/"),
		httpc:      &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// instantResponse is the instant-query answer shape:
// {data:{result:[{metric:{...,"__name__":n}, value:[ts,"v"]}]}}
type instantResponse struct {
	Data struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (c *Client) get(rawURL string, params url.Values) ([]byte, error) {
	full := rawURL
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	resp, err := c.httpc.Get(full)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("query returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// QueryFormatted evaluates an instant query and renders every series as an
// indented "name{labels} = value" line, labels sorted for stable output.
// It never returns an error: empty results read "(no data)" and malformed
// responses read "(parse error: ...)" so reports always have something to
// show.
func (c *Client) QueryFormatted(expr string) string {
	body, err := c.get(c.metricsURL+"/api/v1/query", url.Values{"query": {expr}})
	if err != nil || len(body) == 0 {
		return "  (no data)"
	}

	var parsed instantResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Sprintf("  (parse error: %v)", err)
	}
	if len(parsed.Data.Result) == 0 {
		return "  (no data)"
	}

	lines := make([]string, 0, len(parsed.Data.Result))
	for _, r := range parsed.Data.Result {
		val := "n/a"
		if len(r.Value) > 1 {
			if s, ok := r.Value[1].(string); ok {
				val = s
			} else {
				val = fmt.Sprint(r.Value[1])
			}
		}

		name := expr
		keys := make([]string, 0, len(r.Metric))
		for k := range r.Metric {
			if k == "__name__" {
				name = r.Metric[k]
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		labels := make([]string, 0, len(keys))
		for _, k := range keys {
			labels = append(labels, k+"="+r.Metric[k])
		}
		suffix := ""
		if len(labels) > 0 {
			suffix = "{" + strings.Join(labels, ", ") + "}"
		}
		lines = append(lines, fmt.Sprintf("  %s%s = %s", name, suffix, val))
	}
	return strings.Join(lines, "\n")
}

// QueryScalar returns the first series' value as a float. It returns 0 on
// any absence or failure, so callers cannot tell "metric is zero" from
// "metric unavailable". The recommendation rules were written against that
// behavior; keep it.
func (c *Client) QueryScalar(expr string) float64 {
	body, err := c.get(c.metricsURL+"/api/v1/query", url.Values{"query": {expr}})
	if err != nil {
		return 0
	}
	var parsed instantResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0
	}
	results := parsed.Data.Result
	if len(results) == 0 || len(results[0].Value) < 2 {
		return 0
	}
	s, ok := results[0].Value[1].(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// CountMatches counts log records matching a LogsQL expression, one NDJSON
// record per line, up to the query limit. It returns -1 when the endpoint
// is unreachable so "no matches" (0) stays distinguishable from "no
// backend".
func (c *Client) CountMatches(expr string) int {
	body, err := c.get(c.logsURL+"/select/logsql/query",
		url.Values{"query": {expr}, "limit": {queryLimit}})
	if err != nil {
		return -1
	}
	count := 0
	for _, line := range strings.Split(string(body), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// WaitReady probes url until it answers or retries run out, logging
// progress into the run log.
func (c *Client) WaitReady(ctx context.Context, probeURL, label string, retries int, delay time.Duration) bool {
	c.log.Info(fmt.Sprintf("Waiting for %s (%s)…", label, probeURL))
	probe := &http.Client{Timeout: 3 * time.Second}

	for i := 0; i < retries; i++ {
		resp, err := probe.Get(probeURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				c.log.Info(label + " ready")
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}

	c.log.Warn(fmt.Sprintf("WARNING: %s not ready after %ds",
		label, int((time.Duration(retries) * delay).Seconds())))
	return false
}

// WaitBackends waits for the metrics and log stores concurrently. Neither
// result gates the run; phase 3 only records them in the health table.
func (c *Client) WaitBackends(ctx context.Context, retries int, delay time.Duration) (metricsOK, logsOK bool) {
	var g errgroup.Group
	g.Go(func() error {
		metricsOK = c.WaitReady(ctx, c.metricsURL+"/health", "VictoriaMetrics", retries, delay)
		return nil
	})
	g.Go(func() error {
		logsOK = c.WaitReady(ctx, c.logsURL+"/health", "VictoriaLogs", retries, delay)
		return nil
	})
	_ = g.Wait()
	return metricsOK, logsOK
}
