package scheduler

import (
	"context"
	"fmt"

	temporalclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// TemporalNotifier signals an external Temporal workflow when a top-level url()
// chain's `end` event fires, for callers driving graph execution from inside a
// Temporal workflow that wants to resume once the graph settles. Grounded on
// pkg/client/temporal_client.go's TemporalClient.
type TemporalNotifier struct {
	client     temporalclient.Client
	logger     *zap.Logger
	workflowID string
	runID      string
	signalName string
}

// TemporalNotifierConfig identifies the workflow/run/signal a TemporalNotifier
// signals on every url() settlement.
type TemporalNotifierConfig struct {
	HostPort   string
	Namespace  string
	WorkflowID string
	RunID      string
	SignalName string
}

// NewTemporalNotifier dials the Temporal frontend and returns a Notifier. A nil
// logger is replaced with a no-op logger.
func NewTemporalNotifier(cfg TemporalNotifierConfig, logger *zap.Logger) (*TemporalNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("scheduler: temporal notifier requires a hostPort")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.SignalName == "" {
		cfg.SignalName = "fluxgraph.url.end"
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: dialing temporal: %w", err)
	}

	return &TemporalNotifier{
		client:     c,
		logger:     logger,
		workflowID: cfg.WorkflowID,
		runID:      cfg.RunID,
		signalName: cfg.SignalName,
	}, nil
}

// Notify signals the configured workflow with the settled url() outcome. A failure
// is logged, not returned to the caller of url() — this notifier must never affect
// propagation.
func (t *TemporalNotifier) Notify(ctx context.Context, url string, duration float64, failed bool) error {
	payload := map[string]interface{}{
		"url":        url,
		"durationMs": duration,
		"failed":     failed,
	}
	if err := t.client.SignalWorkflow(ctx, t.workflowID, t.runID, t.signalName, payload); err != nil {
		t.logger.Warn("failed to signal temporal workflow after url() settled",
			zap.String("workflow_id", t.workflowID),
			zap.Error(err))
		return err
	}
	return nil
}

// Close releases the underlying Temporal client connection.
func (t *TemporalNotifier) Close() {
	if t.client != nil {
		t.client.Close()
	}
}
