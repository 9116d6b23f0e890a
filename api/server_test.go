package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rahat-ems/config"
	"rahat-ems/core/auth"
	"rahat-ems/core/incidents"
	"rahat-ems/core/model"
	"rahat-ems/core/notify"
	"rahat-ems/core/rbac"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
	"rahat-ems/core/workflow"
)

type apiEnv struct {
	ts    *httptest.Server
	users store.UsersStore
	cfg   *config.AppConfig
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBURL:      filepath.Join(t.TempDir(), "api.db"),
		Pepper:     "pepper",
		SessionTTL: time.Hour,
		Dispatch:   config.DispatchConfig{Departments: []string{"Edhi Foundation", "Chippa Ambulance"}},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	notifications := store.NewNotificationsStore(db)
	audits := store.NewAuditStore(db)
	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sm := auth.NewSessionManager(sessions, cfg, logger)
	notifier := notify.NewMulti(logger, notify.NewStoreNotifier(notifications))
	planner := &workflow.Planner{Departments: cfg.Dispatch.Departments}
	// Nil geocoder: addresses fall back to coordinate pairs, no network.
	svc := incidents.NewService(incidentsStore, users, planner, nil, notifier, logger)

	server := NewServer(cfg, users, notifications, audits, sm, policy, svc, logger)
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return &apiEnv{ts: ts, users: users, cfg: cfg}
}

func (e *apiEnv) seedUser(t *testing.T, username, password, role, department, hospital string) *store.User {
	t.Helper()
	ph, err := auth.HashPassword(password, e.cfg.Pepper)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &store.User{
		Username:     username,
		Name:         username,
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Role:         role,
		Department:   department,
		Hospital:     hospital,
		Active:       true,
	}
	if _, err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return u
}

// login returns the session cookie for the user.
func (e *apiEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(e.ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "rahat_session" {
			return c
		}
	}
	t.Fatalf("no session cookie in login response")
	return nil
}

func (e *apiEnv) request(t *testing.T, method, path string, cookie *http.Cookie, payload any) (*http.Response, []byte) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func decodeIncident(t *testing.T, raw []byte) model.Incident {
	t.Helper()
	var inc model.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		t.Fatalf("decode incident: %v (%s)", err, raw)
	}
	return inc
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := setupAPI(t)
	resp, err := http.Get(env.ts.URL + "/api/incidents")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginBadPassword(t *testing.T) {
	env := setupAPI(t)
	env.seedUser(t, "alice", "secret123", store.RoleCitizen, "", "")
	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong456"})
	resp, err := http.Post(env.ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginAndMe(t *testing.T) {
	env := setupAPI(t)
	env.seedUser(t, "alice", "secret123", store.RoleCitizen, "", "")
	cookie := env.login(t, "alice", "secret123")

	resp, raw := env.request(t, http.MethodGet, "/api/auth/me", cookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), `"alice"`) {
		t.Fatalf("me body = %s", raw)
	}
}

func TestCitizenCannotApprove(t *testing.T) {
	env := setupAPI(t)
	env.seedUser(t, "alice", "secret123", store.RoleCitizen, "", "")
	cookie := env.login(t, "alice", "secret123")

	resp, _ := env.request(t, http.MethodPost, "/api/incidents/any-id/approve", cookie,
		map[string]string{"department": "Edhi Foundation"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	env := setupAPI(t)
	env.seedUser(t, "alice", "secret123", store.RoleCitizen, "", "")
	env.seedUser(t, "boss", "secret123", store.RoleAdmin, "", "")
	driver := env.seedUser(t, "wheels", "secret123", store.RoleDriver, "Edhi Foundation", "")

	citizen := env.login(t, "alice", "secret123")
	admin := env.login(t, "boss", "secret123")
	driverCookie := env.login(t, "wheels", "secret123")

	resp, raw := env.request(t, http.MethodPost, "/api/incidents", citizen, map[string]any{
		"description": "collision on the bridge",
		"location":    map[string]any{"coordinates": []float64{67.0011, 24.8607}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, raw)
	}
	inc := decodeIncident(t, raw)
	if inc.Status != model.StatusPending {
		t.Fatalf("status = %s", inc.Status)
	}
	base := "/api/incidents/" + inc.ID

	resp, raw = env.request(t, http.MethodPost, base+"/approve", admin,
		map[string]string{"department": "Edhi Foundation"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d: %s", resp.StatusCode, raw)
	}

	resp, raw = env.request(t, http.MethodPost, base+"/assign-driver", admin,
		map[string]string{"driver_id": driver.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status = %d: %s", resp.StatusCode, raw)
	}
	assigned := decodeIncident(t, raw)
	if assigned.AssignedTo.Driver != driver.ID {
		t.Fatalf("assigned driver = %q", assigned.AssignedTo.Driver)
	}

	// Skipping arrived must yield a conflict, not a silent update.
	resp, raw = env.request(t, http.MethodPatch, base+"/driver-status", driverCookie,
		map[string]string{"status": "transporting", "hospital": "Jinnah Hospital"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("skip-arrived status = %d, want 409: %s", resp.StatusCode, raw)
	}

	resp, raw = env.request(t, http.MethodPatch, base+"/driver-status", driverCookie,
		map[string]string{"status": "arrived"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("arrived status = %d: %s", resp.StatusCode, raw)
	}
	arrived := decodeIncident(t, raw)
	if arrived.Status != model.StatusInProgress {
		t.Fatalf("status after arrived = %s", arrived.Status)
	}

	// Transporting without a hospital is a validation error.
	resp, _ = env.request(t, http.MethodPatch, base+"/driver-status", driverCookie,
		map[string]string{"status": "transporting"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing hospital status = %d, want 400", resp.StatusCode)
	}

	resp, raw = env.request(t, http.MethodPatch, base+"/driver-status", driverCookie,
		map[string]string{"status": "transporting", "hospital": "Jinnah Hospital"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transporting status = %d: %s", resp.StatusCode, raw)
	}

	resp, raw = env.request(t, http.MethodPatch, base+"/driver-status", driverCookie,
		map[string]string{"status": "delivered"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delivered status = %d: %s", resp.StatusCode, raw)
	}
	delivered := decodeIncident(t, raw)
	if delivered.Status != model.StatusCompleted || delivered.HospitalStatus != model.HospitalIncoming {
		t.Fatalf("delivered coupling: status=%s hospital=%s", delivered.Status, delivered.HospitalStatus)
	}

	resp, raw = env.request(t, http.MethodGet, base+"/actions", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("actions status = %d", resp.StatusCode)
	}
	var actionsResp struct {
		Actions []model.Action `json:"actions"`
	}
	if err := json.Unmarshal(raw, &actionsResp); err != nil {
		t.Fatalf("decode actions: %v", err)
	}
	if len(actionsResp.Actions) != 6 {
		t.Fatalf("actions = %d, want 6", len(actionsResp.Actions))
	}
}

func TestCitizenSeesOnlyOwnIncidents(t *testing.T) {
	env := setupAPI(t)
	env.seedUser(t, "alice", "secret123", store.RoleCitizen, "", "")
	env.seedUser(t, "bob", "secret123", store.RoleCitizen, "", "")
	alice := env.login(t, "alice", "secret123")
	bob := env.login(t, "bob", "secret123")

	resp, raw := env.request(t, http.MethodPost, "/api/incidents", alice, map[string]any{
		"location": map[string]any{"coordinates": []float64{67.0, 24.8}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, raw)
	}
	inc := decodeIncident(t, raw)

	resp, _ = env.request(t, http.MethodGet, "/api/incidents/"+inc.ID, bob, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger read status = %d, want 403", resp.StatusCode)
	}

	resp, raw = env.request(t, http.MethodGet, "/api/incidents", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var listResp struct {
		Incidents []model.Incident `json:"incidents"`
	}
	if err := json.Unmarshal(raw, &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Incidents) != 0 {
		t.Fatalf("bob sees %d incidents, want 0", len(listResp.Incidents))
	}
}

func TestRegisterThenLogin(t *testing.T) {
	env := setupAPI(t)
	body, _ := json.Marshal(map[string]string{
		"username": "newbie",
		"password": "passw0rd",
		"name":     "New User",
	})
	resp, err := http.Post(env.ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	cookie := env.login(t, "newbie", "passw0rd")
	r2, _ := env.request(t, http.MethodGet, "/api/auth/me", cookie, nil)
	if r2.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", r2.StatusCode)
	}

	// Registration is citizen-only regardless of the requested role.
	body, _ = json.Marshal(map[string]string{
		"username": "sneaky",
		"password": "passw0rd",
		"role":     "admin",
	})
	resp, err = http.Post(env.ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp.Body.Close()
	u, err := env.users.GetByUsername(context.Background(), "sneaky")
	if err != nil || u == nil {
		t.Fatalf("sneaky user missing: %v", err)
	}
	if u.Role != store.RoleCitizen {
		t.Fatalf("registered role = %q, want citizen", u.Role)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	env := setupAPI(t)
	env.seedUser(t, "boss", "secret123", store.RoleAdmin, "", "")
	admin := env.login(t, "boss", "secret123")
	resp, _ := env.request(t, http.MethodGet, "/api/incidents/does-not-exist", admin, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// Every API route except login, logout and register must carry both the
// session guard and a permission guard.
func TestRoutesCarrySessionAndPermissionGuards(t *testing.T) {
	raw, err := os.ReadFile("server.go")
	if err != nil {
		t.Fatalf("read server.go: %v", err)
	}
	exempt := []string{"/api/auth/login", "/api/auth/logout", "/api/auth/register", "/api/auth/me", "/api/health"}
	for i, line := range strings.Split(string(raw), "\n") {
		if !strings.Contains(line, ".MethodFunc(") {
			continue
		}
		skip := false
		for _, path := range exempt {
			if strings.Contains(line, `"`+path+`"`) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if !strings.Contains(line, "withSession(require(") {
			t.Fatalf("unguarded route at server.go:%d -> %s", i+1, strings.TrimSpace(line))
		}
	}
}
