// Package agent runs the periodic push loop of the long-running exporter and
// keeps its memory use in check.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Source produces a fresh inventory report.
type Source interface {
	Sample(ctx context.Context) (model.Report, error)
}

// Pusher delivers a report to the collector endpoint.
type Pusher interface {
	Push(ctx context.Context, report model.Report) (*model.PushResponse, error)
}

// Agent collects and pushes a report every interval until the context is
// canceled or the state machine stops it.
type Agent struct {
	interval     time.Duration
	source       Source
	pusher       Pusher
	stateMachine *StateMachine
}

// NewAgent creates an Agent.
func NewAgent(interval time.Duration, source Source, pusher Pusher, stateMachine *StateMachine) *Agent {
	return &Agent{
		interval:     interval,
		source:       source,
		pusher:       pusher,
		stateMachine: stateMachine,
	}
}

// Run pushes immediately, then once per interval. It returns nil when the
// state machine stops the loop and ctx.Err() on cancellation.
func (a *Agent) Run(ctx context.Context) error {
	a.stateMachine.TransitionTo(StateRunning, "push loop started")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.pushOnce(ctx)

	for {
		if s := a.stateMachine.State(); s == StateStopped {
			slog.Error("report push loop stopped", "reason", a.stateMachine.StateReason())
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		switch a.stateMachine.State() {
		case StateRunning:
			a.pushOnce(ctx)
		case StateBackoff:
			if a.stateMachine.IsBackoffExpired() {
				a.stateMachine.TransitionTo(StateRunning, "backoff expired")
				a.pushOnce(ctx)
			} else {
				slog.Debug("in backoff, skipping push",
					"remaining", a.stateMachine.BackoffRemaining())
			}
		}
	}
}

func (a *Agent) pushOnce(ctx context.Context) {
	report, err := a.source.Sample(ctx)
	if err != nil {
		slog.Warn("collection for push failed", "error", err)
		return
	}

	resp, err := a.pusher.Push(ctx, report)
	if ctx.Err() != nil {
		return
	}
	a.stateMachine.HandlePushResult(err)
	if err != nil {
		slog.Warn("report push failed", "error", err, "state", a.stateMachine.State())
		return
	}

	slog.Debug("report pushed",
		"report_id", resp.ReportID,
		"devices", len(report.Devices),
	)
}
