package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"rahat-ems/config"
	"rahat-ems/core/auth"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

type AccountsHandler struct {
	cfg    *config.AppConfig
	users  store.UsersStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewAccountsHandler(cfg *config.AppConfig, users store.UsersStore, audits store.AuditStore, logger *utils.Logger) *AccountsHandler {
	return &AccountsHandler{cfg: cfg, users: users, audits: audits, logger: logger}
}

type createUserRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Role           string `json:"role"`
	Department     string `json:"department"`
	Hospital       string `json:"hospital"`
	DrivingLicense string `json:"driving_license"`
}

func (h *AccountsHandler) validate(req *createUserRequest) (string, bool) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if err := utils.ValidateUsername(req.Username); err != nil {
		return "invalid username", false
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		return "weak password", false
	}
	if !store.ValidRole(req.Role) {
		return "invalid role", false
	}
	if req.Role == store.RoleDepartment && strings.TrimSpace(req.Department) == "" {
		return "department required", false
	}
	if req.Role == store.RoleHospital && strings.TrimSpace(req.Hospital) == "" {
		return "hospital required", false
	}
	return "", true
}

func (h *AccountsHandler) create(w http.ResponseWriter, r *http.Request, req createUserRequest, createdBy string) {
	existing, err := h.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "username taken", http.StatusConflict)
		return
	}
	ph, err := auth.HashPassword(req.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user := &store.User{
		Username:       req.Username,
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
		PasswordHash:   ph.Hash,
		Salt:           ph.Salt,
		Role:           req.Role,
		Department:     strings.TrimSpace(req.Department),
		Hospital:       strings.TrimSpace(req.Hospital),
		DrivingLicense: strings.TrimSpace(req.DrivingLicense),
		Active:         true,
	}
	if _, err := h.users.Create(r.Context(), user); err != nil {
		h.logger.Errorf("accounts: create %s: %v", req.Username, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Append(r.Context(), createdBy, "accounts.create", req.Username+" role="+req.Role)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// Register is the public citizen signup. Privileged roles can only be
// provisioned by an administrator through Create.
func (h *AccountsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Role = store.RoleCitizen
	req.Department = ""
	req.Hospital = ""
	if msg, ok := h.validate(&req); !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	h.create(w, r, req, req.Username)
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if msg, ok := h.validate(&req); !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if req.Role == store.RoleSuperadmin && actor.Role != store.RoleSuperadmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	h.create(w, r, req, actor.ID)
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role != "" && !store.ValidRole(role) {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	users, err := h.users.List(r.Context(), role)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *AccountsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := urlParam(r, "user_id")
	target, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if target == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if target.Role == store.RoleSuperadmin && actor.Role != store.RoleSuperadmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := h.users.SetActive(r.Context(), id, req.Active); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Append(r.Context(), actor.ID, "accounts.set_active", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
