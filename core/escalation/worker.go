// Package escalation re-alerts administrators about incidents that sit in
// pending longer than the configured age. Each incident is escalated at most
// once; the sweep stamps escalated_at so later runs skip it. The sweep is
// also the housekeeping tick: expired sessions are purged on each run.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rahat-ems/config"
	"rahat-ems/core/auth"
	"rahat-ems/core/model"
	"rahat-ems/core/notify"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

type Worker struct {
	incidents store.IncidentsStore
	users     store.UsersStore
	sessions  *auth.SessionManager
	notifier  notify.Notifier
	cfg       config.EscalationConfig
	logger    *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewWorker(incidents store.IncidentsStore, users store.UsersStore, sessions *auth.SessionManager,
	notifier notify.Notifier, cfg config.EscalationConfig, logger *utils.Logger) *Worker {
	return &Worker{
		incidents: incidents,
		users:     users,
		sessions:  sessions,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

func (w *Worker) Start() error {
	return w.StartWithContext(context.Background())
}

func (w *Worker) StartWithContext(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if !w.cfg.Enabled {
		w.logger.Infof("escalation: disabled")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	_, err := c.AddFunc(w.cfg.CronSpec, func() {
		if err := w.Sweep(runCtx); err != nil {
			w.logger.Errorf("escalation: sweep failed: %v", err)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("escalation: bad cron spec %q: %w", w.cfg.CronSpec, err)
	}
	c.Start()
	w.cron = c
	w.cancel = cancel
	w.running = true
	w.logger.Infof("escalation: started, spec=%q pending_age=%s", w.cfg.CronSpec, w.cfg.PendingAge)
	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.cancel()
	w.cron = nil
	w.cancel = nil
	w.running = false
	w.logger.Infof("escalation: stopped")
}

// Sweep escalates every pending incident older than the configured age and
// prunes expired sessions.
func (w *Worker) Sweep(ctx context.Context) error {
	if w.sessions != nil {
		if n, err := w.sessions.PurgeExpired(ctx); err != nil {
			w.logger.Warnf("escalation: purge sessions: %v", err)
		} else if n > 0 {
			w.logger.Infof("escalation: purged %d expired sessions", n)
		}
	}
	cutoff := utils.NowUTC().Add(-w.cfg.PendingAge)
	stale, err := w.incidents.ListIncidents(ctx, store.IncidentFilter{PendingBefore: &cutoff})
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	admins, err := w.users.ListActiveByRoles(ctx, store.RoleAdmin, store.RoleSuperadmin)
	if err != nil {
		return err
	}
	for _, inc := range stale {
		if err := w.escalate(ctx, inc, admins); err != nil {
			w.logger.Warnf("escalation: incident %s: %v", inc.ID, err)
		}
	}
	return nil
}

func (w *Worker) escalate(ctx context.Context, inc model.Incident, admins []store.User) error {
	now := utils.NowUTC()
	err := w.incidents.ApplyTransition(ctx, inc.ID, inc.Version, model.Patch{EscalatedAt: &now}, &model.Action{
		Action:      "escalated",
		PerformedBy: "system",
		Details:     map[string]any{"pending_since": inc.Timestamps.ReportedAt.Format(time.RFC3339)},
		CreatedAt:   now,
	})
	if err != nil {
		// A concurrent transition moved the incident on; it is no longer
		// stuck, so skip it this round.
		if err == store.ErrConflict {
			return nil
		}
		return err
	}
	age := now.Sub(inc.Timestamps.ReportedAt).Round(time.Minute)
	for _, admin := range admins {
		ev := notify.Event{
			Recipient:       admin.ID,
			Title:           "Incident awaiting approval",
			Message:         fmt.Sprintf("Incident %s has been pending for %s", inc.ID, age),
			Type:            "escalation",
			RelatedIncident: inc.ID,
		}
		if err := w.notifier.Notify(ctx, ev); err != nil {
			w.logger.Warnf("escalation: notify %s: %v", admin.ID, err)
		}
	}
	return nil
}
