package auth

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"rahat-ems/config"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

type contextKey string

// SessionContextKey carries the authenticated *store.SessionRecord.
const SessionContextKey contextKey = "session"

// ActorContextKey carries the resolved model.Actor for the request.
const ActorContextKey contextKey = "actor"

type SessionManager struct {
	store  store.SessionStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(store store.SessionStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: store, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, ip, userAgent string) (*store.SessionRecord, error) {
	now := utils.NowUTC()
	rec := &store.SessionRecord{
		ID:         uuid.Must(uuid.NewV4()).String(),
		UserID:     user.ID,
		Username:   user.Username,
		Role:       user.Role,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Resolve returns the live session for id, or nil for unknown/expired ones.
func (m *SessionManager) Resolve(ctx context.Context, id string) (*store.SessionRecord, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := m.store.GetSession(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if utils.NowUTC().After(rec.ExpiresAt) {
		_ = m.store.DeleteSession(ctx, rec.ID)
		return nil, nil
	}
	return rec, nil
}

func (m *SessionManager) Refresh(ctx context.Context, id string) error {
	return m.store.UpdateActivity(ctx, id, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteSession(ctx, id)
}

func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, time.Now().UTC())
}
