package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"rahat-ems/api/handlers"
	"rahat-ems/core/auth"
	"rahat-ems/core/model"
	"rahat-ems/core/rbac"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

const sessionActivityInterval = 30 * time.Second

// sessionActivity throttles last-seen writes so each request does not hit the
// sessions table.
type sessionActivity struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newSessionActivity() *sessionActivity {
	return &sessionActivity{last: map[string]time.Time{}}
}

func (sa *sessionActivity) shouldUpdate(id string, now time.Time, interval time.Duration) bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	last, ok := sa.last[id]
	if !ok || now.Sub(last) >= interval {
		sa.last[id] = now
		return true
	}
	return false
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		user := "-"
		if v := r.Context().Value(auth.SessionContextKey); v != nil {
			sr := v.(*store.SessionRecord)
			user = sr.Username
		}
		s.logger.Infof("%s %s user=%s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, user, rec.status, time.Since(start), rec.size)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withSession resolves the session cookie into a live session and an actor,
// both stored on the request context. Inactive or deleted users lose their
// session immediately.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(handlers.SessionCookie)
		if err != nil || cookie.Value == "" {
			s.logger.Debugf("auth fail (missing cookie) %s %s", r.Method, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sr, err := s.sessionManager.Resolve(r.Context(), cookie.Value)
		if err != nil || sr == nil {
			// Log a digest of the presented token, never the token itself.
			s.logger.Debugf("auth fail (session not found) %s %s token=%s: %v", r.Method, r.URL.Path, utils.Sha(cookie.Value)[:12], err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := s.users.GetByID(r.Context(), sr.UserID)
		if err != nil || user == nil || !user.Active {
			s.logger.Debugf("auth fail (user inactive/missing) %s %s: %v", r.Method, r.URL.Path, err)
			_ = s.sessionManager.Delete(r.Context(), sr.ID)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		now := time.Now().UTC()
		if s.activity.shouldUpdate(sr.ID, now, sessionActivityInterval) {
			if err := s.sessionManager.Refresh(r.Context(), sr.ID); err != nil {
				s.logger.Warnf("session refresh %s: %v", utils.Sha(sr.ID)[:12], err)
			}
		}
		actor := model.Actor{
			ID:         user.ID,
			Role:       user.Role,
			Name:       user.Name,
			Department: user.Department,
			Hospital:   user.Hospital,
		}
		ctx := context.WithValue(r.Context(), auth.SessionContextKey, sr)
		ctx = context.WithValue(ctx, auth.ActorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			val := r.Context().Value(auth.SessionContextKey)
			if val == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			sess := val.(*store.SessionRecord)
			if !s.policy.Allowed([]string{sess.Role}, perm) {
				s.logger.Infof("perm fail %s %s user=%s role=%s need=%s", r.Method, r.URL.Path, sess.Username, sess.Role, perm)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}
