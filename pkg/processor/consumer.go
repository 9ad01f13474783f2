package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lynex-ai/lynex/pkg/alerts"
	"github.com/lynex-ai/lynex/pkg/analytics"
	"github.com/lynex-ai/lynex/pkg/bus"
	"github.com/lynex-ai/lynex/pkg/event"
	"github.com/lynex-ai/lynex/pkg/metrics"
	"github.com/lynex-ai/lynex/pkg/notify"
)

// Consumer loop tuning.
const (
	readBatchSize  = 10
	readBlock      = 5 * time.Second
	claimInterval  = 30 * time.Second
	claimMinIdle   = 60 * time.Second
	claimBatchSize = 50
	errorBackoff   = 1 * time.Second
)

// Config holds consumer identity and group settings.
type Config struct {
	Group    string
	Consumer string
}

// DefaultConfig derives a unique consumer name from the startup instant so
// each processor instance owns its pending entries.
func DefaultConfig() Config {
	return Config{
		Group:    bus.ConsumerGroup,
		Consumer: fmt.Sprintf("processor-%d", time.Now().Unix()),
	}
}

// Consumer is the processing loop for one processor instance.
type Consumer struct {
	cfg        Config
	bus        *bus.Bus
	writer     *analytics.Writer
	rules      *alerts.Manager
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	// onAlert, when set, observes every fired alert. Used by tests.
	onAlert func(alerts.Alert)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer wires the loop. dispatcher may be nil (alerting sinks
// disabled); metrics may be nil (instrumentation disabled).
func NewConsumer(cfg Config, b *bus.Bus, writer *analytics.Writer, rules *alerts.Manager, dispatcher *notify.Dispatcher, m *metrics.Metrics) *Consumer {
	return &Consumer{
		cfg:        cfg,
		bus:        b,
		writer:     writer,
		rules:      rules,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     slog.Default().With("component", "processor", "consumer", cfg.Consumer),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start creates the consumer group and launches the read and claim loops.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.bus.CreateGroup(ctx, c.cfg.Group); err != nil {
		return fmt.Errorf("creating consumer group: %w", err)
	}

	c.wg.Add(2)
	go c.runRead(ctx)
	go c.runClaim(ctx)

	c.logger.Info("Processor started", "group", c.cfg.Group)
	return nil
}

// Stop signals both loops, waits for them, and flushes the writer so no
// buffered rows are lost on shutdown. Safe to call multiple times.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.writer.Flush(ctx); err != nil {
		c.logger.Error("Final flush failed, buffered events will be redelivered", "error", err)
	}
	c.logger.Info("Processor stopped")
}

func (c *Consumer) runRead(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			msgs, err := c.bus.ReadGroup(ctx, c.cfg.Group, c.cfg.Consumer, readBatchSize, readBlock)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Bus read failed", "error", err)
				if c.metrics != nil {
					c.metrics.ProcessErrors.Inc()
				}
				c.sleep(errorBackoff)
				continue
			}
			c.processBatch(ctx, msgs)
		}
	}
}

// runClaim periodically takes over messages whose original consumer went
// away without acking.
func (c *Consumer) runClaim(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimStale(ctx)
		}
	}
}

func (c *Consumer) claimStale(ctx context.Context) {
	pending, err := c.bus.Pending(ctx, c.cfg.Group, claimBatchSize)
	if err != nil {
		c.logger.Error("Pending scan failed", "error", err)
		return
	}

	// Entries this consumer already owns are claimed too: with a single
	// processor a message left un-acked by a storage failure would
	// otherwise never be redelivered.
	var stale []string
	for _, p := range pending {
		if p.Idle >= claimMinIdle {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return
	}

	msgs, err := c.bus.Claim(ctx, c.cfg.Group, c.cfg.Consumer, claimMinIdle, stale)
	if err != nil {
		c.logger.Error("Claim failed", "ids", len(stale), "error", err)
		return
	}
	if len(msgs) > 0 {
		c.logger.Info("Claimed stale messages", "count", len(msgs))
		c.processBatch(ctx, msgs)
	}
}

func (c *Consumer) processBatch(ctx context.Context, msgs []bus.Message) {
	for _, msg := range msgs {
		if c.processOne(ctx, msg) {
			if err := c.bus.Ack(ctx, c.cfg.Group, msg.ID); err != nil {
				c.logger.Error("Ack failed", "message_id", msg.ID, "error", err)
			}
		}
	}
}

// processOne handles a single message and reports whether it should be
// acked. Poison messages (unparseable) are acked so they never loop;
// storage failures withhold the ack so the bus redelivers.
func (c *Consumer) processOne(ctx context.Context, msg bus.Message) bool {
	e, queuedAt, err := event.Unflatten(msg.Fields)
	if err != nil {
		c.logger.Warn("Dropping unparseable message", "message_id", msg.ID, "error", err)
		if c.metrics != nil {
			c.metrics.EventsProcessed.WithLabelValues("dropped").Inc()
		}
		return true
	}

	enriched := Enrich(e, queuedAt, c.now())

	c.evaluateAlerts(ctx, e, enriched)

	row := analytics.NewStoredEvent(e, enriched, queuedAt)
	if err := c.writer.Insert(ctx, row); err != nil {
		c.logger.Error("Analytics write failed, withholding ack", "event_id", e.EventID, "error", err)
		if c.metrics != nil {
			c.metrics.ProcessErrors.Inc()
		}
		c.sleep(errorBackoff)
		return false
	}

	if c.metrics != nil {
		c.metrics.EventsProcessed.WithLabelValues("ok").Inc()
	}
	return true
}

// evaluateAlerts runs the rule snapshot and fans out fired alerts without
// blocking event processing.
func (c *Consumer) evaluateAlerts(ctx context.Context, e *event.Envelope, enriched *event.Enrichment) {
	if c.rules == nil {
		return
	}

	rules := c.rules.Rules()
	fired := alerts.Evaluate(rules, e, enriched)
	if len(fired) == 0 {
		return
	}

	channelsByRule := make(map[string][]string, len(rules))
	for i := range rules {
		channelsByRule[rules[i].ID] = rules[i].Channels
	}

	for _, alert := range fired {
		if c.metrics != nil {
			c.metrics.AlertsFired.WithLabelValues(alert.Severity).Inc()
		}
		c.logger.Info("Alert fired",
			"rule", alert.RuleName,
			"severity", alert.Severity,
			"project_id", alert.ProjectID,
			"event_id", alert.EventID)

		if c.onAlert != nil {
			c.onAlert(alert)
		}
		if c.dispatcher != nil {
			go c.dispatcher.Dispatch(ctx, alert, channelsByRule[alert.RuleID])
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-c.stopCh:
	case <-time.After(d):
	}
}
