// Package notify records workflow events for affected parties. Delivery
// beyond the in-app store and the event stream (push, SMS) is external.
package notify

import (
	"context"

	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

type Event struct {
	Recipient       string `json:"recipient"`
	Title           string `json:"title"`
	Message         string `json:"message"`
	Type            string `json:"type"`
	RelatedIncident string `json:"related_incident,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// StoreNotifier persists in-app notifications.
type StoreNotifier struct {
	store store.NotificationsStore
}

func NewStoreNotifier(s store.NotificationsStore) *StoreNotifier {
	return &StoreNotifier{store: s}
}

func (n *StoreNotifier) Notify(ctx context.Context, ev Event) error {
	_, err := n.store.Create(ctx, &store.Notification{
		Recipient:       ev.Recipient,
		Title:           ev.Title,
		Message:         ev.Message,
		Type:            ev.Type,
		RelatedIncident: ev.RelatedIncident,
	})
	return err
}

// Multi fans one event out to every sink. Sink errors are logged, never
// returned: notification failure must not affect the triggering transition.
type Multi struct {
	sinks  []Notifier
	logger *utils.Logger
}

func NewMulti(logger *utils.Logger, sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	for _, sink := range m.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, ev); err != nil {
			m.logger.Warnf("notification sink failed for %s: %v", ev.Recipient, err)
		}
	}
	return nil
}
