package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/mcp-secrets/internal/logging"
)

// DefaultReconcileSchedule is used when none is configured.
const DefaultReconcileSchedule = "@every 1h"

// Reconciler runs Store.Reconcile on a cron schedule.
type Reconciler struct {
	store   *Store
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewReconciler schedules store reconciliation. schedule accepts standard
// five-field cron specs and descriptors such as "@every 30m".
func NewReconciler(store *Store, schedule string, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Reconciler{
		store:   store,
		cron:    cron.New(),
		logger:  logger.With("component", "reconciler"),
		timeout: time.Minute,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx = logging.WithNamespace(ctx, r.store.Namespace())

	dropped, err := r.store.Reconcile(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "reconcile failed", "error", err)
		return
	}
	r.logger.DebugContext(ctx, "reconcile finished", "dropped", len(dropped))
}

// Start begins running on schedule in the background.
func (r *Reconciler) Start() {
	r.cron.Start()
	r.logger.Info("reconciler started")
}

// Stop halts scheduling and waits for a running reconcile to finish or ctx
// to expire.
func (r *Reconciler) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
