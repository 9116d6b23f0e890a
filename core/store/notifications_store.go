package store

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

type Notification struct {
	ID              string    `json:"id"`
	Recipient       string    `json:"recipient"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Type            string    `json:"type"`
	RelatedIncident string    `json:"related_incident,omitempty"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"created_at"`
}

type NotificationsStore interface {
	Create(ctx context.Context, n *Notification) (string, error)
	ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

type notificationsStore struct {
	db *DB
}

func NewNotificationsStore(db *DB) NotificationsStore {
	return &notificationsStore{db: db}
}

func (s *notificationsStore) Create(ctx context.Context, n *Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV4()).String()
	}
	if n.Type == "" {
		n.Type = "status_update"
	}
	n.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO notifications(id, recipient, title, message, type, related_incident, read, created_at)
		VALUES(?,?,?,?,?,?,?,?)`),
		n.ID, n.Recipient, n.Title, n.Message, n.Type, n.RelatedIncident, boolToInt(n.Read), n.CreatedAt)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

func (s *notificationsStore) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]Notification, error) {
	query := `SELECT id, recipient, title, message, type, related_incident, read, created_at
		FROM notifications WHERE recipient=?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Notification
	for rows.Next() {
		var n Notification
		var read int
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Title, &n.Message, &n.Type, &n.RelatedIncident, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read == 1
		res = append(res, n)
	}
	return res, rows.Err()
}

func (s *notificationsStore) MarkRead(ctx context.Context, id, recipientID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE notifications SET read=1 WHERE id=? AND recipient=?`), id, recipientID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}
