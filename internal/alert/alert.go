// Package alert pushes stage failures and run summaries to operators.
// Delivery is best-effort: a failing sink is logged and counted, never retried.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
)

// MaxDetail is the longest detail text sent before truncation.
const MaxDetail = 1500

const truncatedSuffix = "... (truncated)"

// Level is the alert severity.
type Level string

// Alert levels.
const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Alert is one notification.
type Alert struct {
	Level  Level     `json:"level"`
	Stage  string    `json:"stage"`
	Title  string    `json:"title"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Notifier delivers an alert to one sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Truncate cuts s to max characters and appends a marker when it was longer.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + truncatedSuffix
}

// Text renders the alert as plain multi-line text.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(a.Level)), a.Title)
	if a.Stage != "" {
		fmt.Fprintf(&b, " (stage: %s)", a.Stage)
	}
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", a.At.UTC().Format(time.RFC3339))
	}
	if a.Detail != "" {
		b.WriteString("\n")
		b.WriteString(a.Detail)
	}
	return b.String()
}

// Dispatcher fans an alert out to every configured notifier and swallows
// failures after logging them.
type Dispatcher struct {
	notifiers []Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher builds a Dispatcher. With no notifiers every call is a no-op.
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Dispatcher{notifiers: active, logger: logger, now: time.Now}
}

// Enabled reports whether any sink is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.notifiers) > 0
}

// Send delivers a to all sinks and returns the joined failures for callers
// that want to report them. Callers are free to ignore the result.
func (d *Dispatcher) Send(ctx context.Context, a Alert) error {
	if !d.Enabled() {
		return nil
	}
	if a.At.IsZero() {
		a.At = d.now()
	}
	a.Detail = Truncate(a.Detail, MaxDetail)
	var errs []error
	for _, n := range d.notifiers {
		err := n.Notify(ctx, a)
		metrics.ObserveAlert(n.Name(), err == nil)
		if err != nil {
			d.logger.Warn("alert delivery failed",
				zap.String("sink", n.Name()),
				zap.String("title", a.Title),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Failure is a convenience for a stage-fatal alert.
func (d *Dispatcher) Failure(ctx context.Context, stage string, err error) {
	_ = d.Send(ctx, Alert{
		Level:  LevelError,
		Stage:  stage,
		Title:  fmt.Sprintf("%s stage failed", stage),
		Detail: err.Error(),
	})
}

// Summary is a convenience for the end-of-run report.
func (d *Dispatcher) Summary(ctx context.Context, title, body string) {
	_ = d.Send(ctx, Alert{Level: LevelInfo, Stage: "report", Title: title, Detail: body})
}
