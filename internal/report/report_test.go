package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"
)

func openTemp(t *testing.T, title string) (*Session, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phase.md")
	s, err := Open(path, title)
	if err != nil {
		t.Fatal(err)
	}
	return s, path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func TestSession_BannerAndClose(t *testing.T) {
	s, path := openTemp(t, "Phase 1 — Reset OpenTelemetry")
	if err := s.Close(true); err != nil {
		t.Fatal(err)
	}

	content := readFile(t, path)
	if !strings.HasPrefix(content, "# Phase 1 — Reset OpenTelemetry\n\n> Started: ") {
		t.Errorf("banner = %q", content[:min(len(content), 60)])
	}
	last := lastNonEmptyLine(content)
	if !strings.Contains(last, "✓ **Completed**") {
		t.Errorf("final line = %q, want the completed marker", last)
	}
}

func TestSession_CloseFailed(t *testing.T) {
	s, path := openTemp(t, "T")
	if err := s.Close(false); err != nil {
		t.Fatal(err)
	}

	last := lastNonEmptyLine(readFile(t, path))
	if !strings.Contains(last, "⚠ **Phase failed — see details above**") {
		t.Errorf("final line = %q, want the failed marker", last)
	}
}

func TestSession_CloseExactlyOnce(t *testing.T) {
	s, path := openTemp(t, "T")
	if err := s.Close(true); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(false); err != nil {
		t.Fatal(err)
	}
	s.Write("after close")

	content := readFile(t, path)
	if n := strings.Count(content, "**Completed**"); n != 1 {
		t.Errorf("Completed markers = %d, want 1", n)
	}
	if strings.Contains(content, "Phase failed") {
		t.Error("second Close must not write")
	}
	if strings.Contains(content, "after close") {
		t.Error("writes after Close must be dropped")
	}
}

func TestSession_Blocks(t *testing.T) {
	s, path := openTemp(t, "T")
	s.H2("Section")
	s.H3("Subsection")
	s.P("line one", "line two")
	s.Blockquote("a warning")
	s.Code("echo hi\n\n", "bash")
	s.Command("gt doctor", "all good\n")
	s.Status(true, "")
	s.Status(false, "")
	s.Close(true)

	content := readFile(t, path)
	for _, want := range []string{
		"\n## Section\n\n",
		"\n### Subsection\n\n",
		"line one\nline two\n\n",
		"> a warning\n\n",
		"```bash\necho hi\n```\n\n",
		"```\n$ gt doctor\nall good\n```\n\n",
		"✓ **OK**",
		"⚠ **FAILED**",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q", want)
		}
	}
}

func TestSession_Table(t *testing.T) {
	s, path := openTemp(t, "T")
	s.Table([]string{"#", "File"}, [][]string{
		{"1", "a.md"},
		{"22", "bb.md"},
	})
	s.Close(true)

	content := readFile(t, path)
	want := "| #  | File  |\n|----|-------|\n| 1  | a.md  |\n| 22 | bb.md |\n\n"
	if !strings.Contains(content, want) {
		t.Errorf("table block:\n%s\nwant:\n%s", content, want)
	}
}

func TestSession_TableRowWidthsMatch(t *testing.T) {
	s, path := openTemp(t, "T")
	headers := []string{"Service", "URL", "Status"}
	rows := [][]string{
		{"VictoriaMetrics", "http://localhost:8428/health", "OK"},
		{"gastown-trace", "http://localhost:7428", "PID 4242"},
		{"Grafana", "http://localhost:9429", "started (may take 10s)"},
	}
	s.Table(headers, rows)
	s.Close(true)

	content := readFile(t, path)
	var tableLines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "|") {
			tableLines = append(tableLines, line)
		}
	}
	if len(tableLines) != len(rows)+2 {
		t.Fatalf("table lines = %d, want %d", len(tableLines), len(rows)+2)
	}

	headerWidth := utf8.RuneCountInString(tableLines[0])
	for i, line := range tableLines {
		if i == 1 {
			continue // separator measured in dashes below
		}
		if utf8.RuneCountInString(line) != headerWidth {
			t.Errorf("row %d width = %d, want %d: %q",
				i, utf8.RuneCountInString(line), headerWidth, line)
		}
	}

	// Separator columns carry data width + 2 dashes
	sepCols := strings.Split(strings.Trim(tableLines[1], "|"), "|")
	headCols := strings.Split(strings.Trim(tableLines[0], "|"), "|")
	if len(sepCols) != len(headCols) {
		t.Fatalf("separator columns = %d, want %d", len(sepCols), len(headCols))
	}
	for i := range sepCols {
		if len(sepCols[i]) != utf8.RuneCountInString(headCols[i]) {
			t.Errorf("separator col %d = %d dashes, want %d",
				i, len(sepCols[i]), utf8.RuneCountInString(headCols[i]))
		}
	}
}

func TestRun_Completed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phase.md")

	ok := Run(path, "T", zap.NewNop(), func(s *Session) error {
		s.P("body")
		return nil
	})
	if !ok {
		t.Error("ok = false, want true")
	}
	if !strings.Contains(lastNonEmptyLine(readFile(t, path)), "✓ **Completed**") {
		t.Error("artifact should end with the completed marker")
	}
}

func TestRun_PhaseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phase.md")

	ok := Run(path, "T", zap.NewNop(), func(s *Session) error {
		return errors.New("tool returned 1")
	})
	if ok {
		t.Error("ok = true, want false")
	}
	if !strings.Contains(lastNonEmptyLine(readFile(t, path)), "⚠ **Phase failed") {
		t.Error("artifact should end with the failed marker")
	}
}

func TestRun_ClosesOnPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phase.md")

	ok := Run(path, "T", zap.NewNop(), func(s *Session) error {
		s.H2("before the fault")
		panic("boom")
	})
	if ok {
		t.Error("ok = true, want false")
	}

	content := readFile(t, path)
	if !strings.Contains(content, "## before the fault") {
		t.Error("writes before the fault should be preserved")
	}
	if !strings.Contains(lastNonEmptyLine(content), "⚠ **Phase failed") {
		t.Errorf("final line = %q, want the failed marker", lastNonEmptyLine(content))
	}
}

func TestRun_OpenFailure(t *testing.T) {
	ok := Run(filepath.Join(t.TempDir(), "missing", "phase.md"), "T", zap.NewNop(),
		func(s *Session) error { return nil })
	if ok {
		t.Error("ok = true for an unopenable artifact, want false")
	}
}
