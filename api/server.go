// Package api exposes the dispatch backend over HTTP. Authentication is a
// session cookie; authorization happens twice: coarse role permissions here,
// per-incident scope checks inside the service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rahat-ems/api/handlers"
	"rahat-ems/config"
	"rahat-ems/core/auth"
	"rahat-ems/core/incidents"
	"rahat-ems/core/rbac"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

type Server struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	notifications  store.NotificationsStore
	audits         store.AuditStore
	sessionManager *auth.SessionManager
	policy         *rbac.Policy
	incidentsSvc   *incidents.Service
	logger         *utils.Logger
	activity       *sessionActivity
}

func NewServer(cfg *config.AppConfig, users store.UsersStore, notifications store.NotificationsStore,
	audits store.AuditStore, sm *auth.SessionManager, policy *rbac.Policy,
	incidentsSvc *incidents.Service, logger *utils.Logger) *Server {
	return &Server{
		cfg:            cfg,
		users:          users,
		notifications:  notifications,
		audits:         audits,
		sessionManager: sm,
		policy:         policy,
		incidentsSvc:   incidentsSvc,
		logger:         logger,
		activity:       newSessionActivity(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.jsonMiddleware)
	r.Use(s.loggingMiddleware)

	authH := handlers.NewAuthHandler(s.cfg, s.users, s.sessionManager, s.audits, s.logger)
	accountsH := handlers.NewAccountsHandler(s.cfg, s.users, s.audits, s.logger)
	incidentsH := handlers.NewIncidentsHandler(s.incidentsSvc, s.audits, s.logger)
	notificationsH := handlers.NewNotificationsHandler(s.notifications, s.logger)

	withSession := s.withSession
	require := s.requirePermission

	r.MethodFunc(http.MethodPost, "/api/auth/login", authH.Login)
	r.MethodFunc(http.MethodPost, "/api/auth/logout", authH.Logout)
	r.MethodFunc(http.MethodGet, "/api/auth/me", withSession(authH.Me))
	r.MethodFunc(http.MethodPost, "/api/auth/register", accountsH.Register)

	r.MethodFunc(http.MethodPost, "/api/accounts", withSession(require(rbac.PermAccountsManage)(accountsH.Create)))
	r.MethodFunc(http.MethodGet, "/api/accounts", withSession(require(rbac.PermAccountsManage)(accountsH.List)))
	r.MethodFunc(http.MethodPatch, "/api/accounts/{user_id}/active", withSession(require(rbac.PermAccountsManage)(accountsH.SetActive)))

	r.MethodFunc(http.MethodPost, "/api/incidents", withSession(require(rbac.PermIncidentsCreate)(incidentsH.Create)))
	r.MethodFunc(http.MethodGet, "/api/incidents", withSession(require(rbac.PermIncidentsRead)(incidentsH.List)))
	r.MethodFunc(http.MethodGet, "/api/incidents/{id}", withSession(require(rbac.PermIncidentsRead)(incidentsH.Get)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id}/approve", withSession(require(rbac.PermIncidentsApprove)(incidentsH.Approve)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id}/reject", withSession(require(rbac.PermIncidentsApprove)(incidentsH.Reject)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id}/assign-driver", withSession(require(rbac.PermIncidentsAssignDriver)(incidentsH.AssignDriver)))
	r.MethodFunc(http.MethodPatch, "/api/incidents/{id}/driver-status", withSession(require(rbac.PermIncidentsDriverUpdate)(incidentsH.UpdateDriverStatus)))
	r.MethodFunc(http.MethodPatch, "/api/incidents/{id}/pickup-status", withSession(require(rbac.PermIncidentsDriverUpdate)(incidentsH.UpdatePatientPickup)))
	r.MethodFunc(http.MethodPatch, "/api/incidents/{id}/hospital-status", withSession(require(rbac.PermIncidentsHospitalUpdate)(incidentsH.UpdateHospitalStatus)))
	r.MethodFunc(http.MethodGet, "/api/incidents/{id}/actions", withSession(require(rbac.PermIncidentsRead)(incidentsH.Actions)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id}/photos", withSession(require(rbac.PermIncidentsPhotos)(incidentsH.AddPhotos)))

	r.MethodFunc(http.MethodGet, "/api/notifications", withSession(require(rbac.PermNotificationsRead)(notificationsH.List)))
	r.MethodFunc(http.MethodPost, "/api/notifications/{notification_id}/read", withSession(require(rbac.PermNotificationsRead)(notificationsH.MarkRead)))

	r.MethodFunc(http.MethodGet, "/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
