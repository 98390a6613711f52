package alerting

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/rabdya767/Stock-ATH-Alert/internal/report"
)

// Message is one rendered report addressed to a channel.
type Message struct {
	Subject string
	Report  report.Rendered
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifyError wraps a delivery failure with its channel name.
type NotifyError struct {
	Channel string
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

func notifyErr(channel string, err error) error {
	if err == nil {
		return nil
	}
	return &NotifyError{Channel: channel, Err: err}
}

// ConsoleNotifier prints reports to a writer, stdout by default.
type ConsoleNotifier struct {
	out    io.Writer
	title  *color.Color
	logger zerolog.Logger
}

// NewConsoleNotifier 构造控制台输出器。
func NewConsoleNotifier(out io.Writer, logger zerolog.Logger) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{
		out:    out,
		title:  color.New(color.FgRed, color.Bold),
		logger: logger.With().Str("component", "alert_console").Logger(),
	}
}

// Notify writes the subject line followed by the report body.
func (n *ConsoleNotifier) Notify(_ context.Context, msg Message) error {
	if msg.Subject != "" {
		if _, err := n.title.Fprintln(n.out, msg.Subject); err != nil {
			return notifyErr("console", err)
		}
	}
	if _, err := io.WriteString(n.out, msg.Report.Body); err != nil {
		return notifyErr("console", err)
	}
	n.logger.Debug().Int("alerts", msg.Report.Count).Msg("report printed")
	return nil
}

// Println writes a status line such as "No alerts triggered.".
func (n *ConsoleNotifier) Println(line string) error {
	_, err := fmt.Fprintln(n.out, line)
	return err
}

var _ Notifier = (*ConsoleNotifier)(nil)
