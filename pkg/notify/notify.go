// Package notify delivers fired alerts to their configured channels:
// an HTTP webhook sink, a Slack sink, and a console sink. Sinks are
// invoked concurrently and a failed sink never blocks the others.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lynex-ai/lynex/pkg/alerts"
)

// Result is one sink's delivery outcome.
type Result struct {
	Channel string
	Success bool
	Err     error
}

// Notifier is a single delivery sink.
type Notifier interface {
	// Channel names the sink ("webhook", "slack", "console").
	Channel() string
	// Send delivers one alert. Errors are recorded, never retried here.
	Send(ctx context.Context, alert alerts.Alert) error
}

// Dispatcher fans one alert out to every sink whose channel the rule
// selected. An empty channel list on the alerting rule means all sinks.
type Dispatcher struct {
	sinks  []Notifier
	logger *slog.Logger
}

func NewDispatcher(sinks ...Notifier) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: slog.Default().With("component", "notify"),
	}
}

// Dispatch sends the alert to the selected sinks concurrently and returns
// all results. Results are aggregated for logging only; delivery is
// best-effort.
func (d *Dispatcher) Dispatch(ctx context.Context, alert alerts.Alert, channels []string) []Result {
	selected := d.selectSinks(channels)
	if len(selected) == 0 {
		return nil
	}

	results := make([]Result, len(selected))
	var wg sync.WaitGroup
	for i, sink := range selected {
		wg.Add(1)
		go func(i int, sink Notifier) {
			defer wg.Done()
			err := sink.Send(ctx, alert)
			results[i] = Result{Channel: sink.Channel(), Success: err == nil, Err: err}
		}(i, sink)
	}
	wg.Wait()

	for _, r := range results {
		if !r.Success {
			d.logger.Error("Alert notification failed",
				"channel", r.Channel,
				"rule", alert.RuleName,
				"error", r.Err)
		}
	}
	return results
}

func (d *Dispatcher) selectSinks(channels []string) []Notifier {
	if len(channels) == 0 {
		return d.sinks
	}
	wanted := make(map[string]bool, len(channels))
	for _, c := range channels {
		wanted[c] = true
	}

	var selected []Notifier
	for _, sink := range d.sinks {
		if wanted[sink.Channel()] {
			selected = append(selected, sink)
		}
	}
	return selected
}
