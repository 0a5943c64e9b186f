// Package report writes the structured Markdown artifacts that make up a
// run's report bundle. A Session is append-only and bound to one file; the
// Run wrapper guarantees every opened session ends with a terminal status
// line no matter how the phase body exits.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Session is an open report artifact for one phase.
type Session struct {
	path   string
	f      *os.File
	closed bool
	err    error // first write failure, surfaced by Close
}

// Open creates the artifact and writes the title banner with a start
// timestamp.
func Open(path, title string) (*Session, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := &Session{path: path, f: f}
	s.Write(fmt.Sprintf("# %s\n\n> Started: %s\n\n", title, timestamp()))
	return s, nil
}

// Path returns the artifact location.
func (s *Session) Path() string {
	return s.path
}

// Write appends raw text. Writes after Close are dropped.
func (s *Session) Write(text string) {
	if s.closed {
		return
	}
	if _, err := s.f.WriteString(text); err != nil && s.err == nil {
		s.err = err
	}
}

func (s *Session) H2(text string) {
	s.Write(fmt.Sprintf("\n## %s\n\n", text))
}

func (s *Session) H3(text string) {
	s.Write(fmt.Sprintf("\n### %s\n\n", text))
}

// P writes a paragraph; multiple lines stay within one block.
func (s *Session) P(lines ...string) {
	s.Write(strings.Join(lines, "\n") + "\n\n")
}

func (s *Session) Blockquote(text string) {
	s.Write(fmt.Sprintf("> %s\n\n", text))
}

// Code writes a fenced code block, optionally language-tagged.
func (s *Session) Code(content, lang string) {
	s.Write(fmt.Sprintf("```%s\n%s\n```\n\n", lang, strings.TrimRight(content, " \t\r\n")))
}

// Command writes a command line and its captured output as one code block.
func (s *Session) Command(cmdline, output string) {
	s.Code("$ "+cmdline+"\n"+strings.TrimRight(output, " \t\r\n"), "")
}

// Table renders a column-aligned Markdown table. Column width is the max
// rune count across the header and every cell; the separator row carries
// width+2 dashes per column.
func (s *Session) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
		for _, row := range rows {
			if i < len(row) {
				if n := utf8.RuneCountInString(row[i]); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
			b.WriteString(" " + cell + pad + " |")
		}
		b.WriteString("\n")
	}

	writeRow(headers)
	b.WriteString("|")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2) + "|")
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	b.WriteString("\n")

	s.Write(b.String())
}

// Status writes a ✓/⚠ banner. An empty msg falls back to OK/FAILED.
func (s *Session) Status(ok bool, msg string) {
	icon := "✓"
	if !ok {
		icon = "⚠"
	}
	label := msg
	if label == "" {
		if ok {
			label = "OK"
		} else {
			label = "FAILED"
		}
	}
	s.Write(fmt.Sprintf("> %s **%s** — %s\n\n", icon, label, timestamp()))
}

// Close writes the terminal status line and releases the artifact. It is
// safe to call more than once; only the first call writes.
func (s *Session) Close(ok bool) error {
	if s.closed {
		return nil
	}
	if ok {
		s.Status(true, "Completed")
	} else {
		s.Status(false, "Phase failed — see details above")
	}
	s.closed = true

	closeErr := s.f.Close()
	if s.err != nil {
		return s.err
	}
	return closeErr
}

// Run opens a session, executes fn, and always closes the artifact with a
// terminal status: Completed when fn returns nil, failed when fn returns an
// error or panics. Faults never propagate to the caller; the returned bool
// is the phase outcome.
func Run(path, title string, log *zap.Logger, fn func(*Session) error) (ok bool) {
	s, openErr := Open(path, title)
	if openErr != nil {
		log.Warn("cannot open report artifact",
			zap.String("path", path), zap.Error(openErr))
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn("phase fault recovered",
				zap.String("artifact", filepath.Base(path)), zap.Any("fault", r))
			ok = false
		}
		if err := s.Close(ok); err != nil {
			log.Warn("closing report artifact", zap.Error(err))
		}
	}()

	ok = fn(s) == nil
	return ok
}

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
