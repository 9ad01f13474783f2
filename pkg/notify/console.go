package notify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lynex-ai/lynex/pkg/alerts"
)

// ANSI color codes for severity rendering.
const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

var severityColor = map[string]string{
	alerts.SeverityInfo:     colorCyan,
	alerts.SeverityWarning:  colorYellow,
	alerts.SeverityCritical: colorRed,
}

// ConsoleNotifier writes colored alert lines to stderr. Mainly useful in
// development and as an always-available last-resort sink.
type ConsoleNotifier struct {
	out io.Writer
}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: os.Stderr}
}

func (n *ConsoleNotifier) Channel() string { return "console" }

func (n *ConsoleNotifier) Send(_ context.Context, alert alerts.Alert) error {
	color := severityColor[alert.Severity]
	_, err := fmt.Fprintf(n.out, "%s[ALERT:%s]%s %s: %s (project=%s event=%s)\n",
		color, alert.Severity, colorReset,
		alert.RuleName, alert.Message, alert.ProjectID, alert.EventID)
	return err
}
