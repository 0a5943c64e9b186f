package notify

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/gastown-tools/gtcycle/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title     string
	Message   string
	Type      NotificationType
	RunID     string // Optional run reference
	ReportDir string // Optional report bundle location
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// ForRun summarizes a finished run as a notification.
func ForRun(run *domain.Run) Notification {
	n := Notification{RunID: run.ID, ReportDir: run.ReportDir}

	if run.Landed {
		n.Type = NotifySuccess
		n.Title = fmt.Sprintf("gtcycle: run %s landed", run.ID)
		n.Message = fmt.Sprintf("Convoy landed after %ds. %d polecats, %s input tokens.",
			int(run.Elapsed.Seconds()), run.PolecatSpawns, humanize.Comma(int64(run.InputTokens)))
	} else {
		n.Type = NotifyWarning
		n.Title = fmt.Sprintf("gtcycle: run %s did not land", run.ID)
		n.Message = fmt.Sprintf("Timeout after %ds. Reports: %s",
			int(run.Elapsed.Seconds()), run.ReportDir)
	}

	if run.Errors > 0 {
		n.Type = NotifyError
		n.Message += fmt.Sprintf(" %d error(s) in logs.", run.Errors)
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
