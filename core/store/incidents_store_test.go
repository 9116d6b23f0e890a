package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rahat-ems/config"
	"rahat-ems/core/model"
	"rahat-ems/core/utils"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    filepath.Join(t.TempDir(), "test.db"),
	}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func createTestIncident(t *testing.T, s IncidentsStore) *model.Incident {
	t.Helper()
	ctx := context.Background()
	inc := &model.Incident{
		ReportedBy:  "citizen-1",
		Description: "Road accident on main road",
		Location:    model.Location{Lon: 67.0011, Lat: 24.8607, Address: "Karachi"},
	}
	first := &model.Action{Action: "reported", PerformedBy: "citizen-1", CreatedAt: time.Now().UTC()}
	id, err := s.CreateIncident(ctx, inc, first)
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	got, err := s.GetIncident(ctx, id)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if got == nil {
		t.Fatalf("incident %s missing after create", id)
	}
	return got
}

func TestCreateIncidentDefaults(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	inc := createTestIncident(t, s)

	if inc.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", inc.Status)
	}
	if inc.DriverStatus != model.DriverAssigned {
		t.Fatalf("driverStatus = %s, want assigned", inc.DriverStatus)
	}
	if inc.HospitalStatus != model.HospitalPending {
		t.Fatalf("hospitalStatus = %s, want pending", inc.HospitalStatus)
	}
	if inc.Category != model.CategoryAccident {
		t.Fatalf("category = %q", inc.Category)
	}
	if inc.Priority != model.PriorityHigh {
		t.Fatalf("priority = %s, want high", inc.Priority)
	}
	if inc.Version != 1 {
		t.Fatalf("version = %d, want 1", inc.Version)
	}
	if inc.Timestamps.ReportedAt.IsZero() {
		t.Fatalf("reportedAt not set")
	}

	actions, err := s.ListActions(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Action != "reported" {
		t.Fatalf("actions = %+v, want single reported entry", actions)
	}
	if actions[0].Seq != 1 {
		t.Fatalf("first action seq = %d, want 1", actions[0].Seq)
	}
}

func TestCreateIncidentBadCoordinates(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	inc := &model.Incident{
		ReportedBy: "citizen-1",
		Location:   model.Location{Lon: 200, Lat: 24.8607},
	}
	_, err := s.CreateIncident(context.Background(), inc, nil)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestCreateIncidentUnknownCategory(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	inc := &model.Incident{
		ReportedBy: "citizen-1",
		Category:   "Flood",
		Location:   model.Location{Lon: 67.0011, Lat: 24.8607},
	}
	_, err := s.CreateIncident(context.Background(), inc, nil)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if ve.Field != "category" {
		t.Fatalf("field = %q, want category", ve.Field)
	}
}

func TestApplyTransitionBumpsVersionAndAppendsAction(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	ctx := context.Background()
	inc := createTestIncident(t, s)

	status := model.StatusAssigned
	dept := "Edhi Foundation"
	now := time.Now().UTC()
	err := s.ApplyTransition(ctx, inc.ID, inc.Version,
		model.Patch{Status: &status, AssignedDepartment: &dept, AssignedAt: &now},
		&model.Action{Action: "approved_and_assigned", PerformedBy: "admin-1", Details: map[string]any{"department": dept}, CreatedAt: now})
	if err != nil {
		t.Fatalf("apply transition: %v", err)
	}

	got, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusAssigned {
		t.Fatalf("status = %s, want assigned", got.Status)
	}
	if got.AssignedTo.Department != dept {
		t.Fatalf("department = %q", got.AssignedTo.Department)
	}
	if got.Version != inc.Version+1 {
		t.Fatalf("version = %d, want %d", got.Version, inc.Version+1)
	}
	if got.Timestamps.AssignedAt == nil {
		t.Fatalf("assignedAt not recorded")
	}

	actions, err := s.ListActions(ctx, inc.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	if actions[1].Seq != 2 || actions[1].Action != "approved_and_assigned" {
		t.Fatalf("second action = %+v", actions[1])
	}
	if actions[1].Details["department"] != dept {
		t.Fatalf("action details = %v", actions[1].Details)
	}
}

func TestApplyTransitionStaleVersionConflicts(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	ctx := context.Background()
	inc := createTestIncident(t, s)

	status := model.StatusAssigned
	dept := "Edhi Foundation"
	action := func(by string) *model.Action {
		return &model.Action{Action: "approved_and_assigned", PerformedBy: by, CreatedAt: time.Now().UTC()}
	}
	if err := s.ApplyTransition(ctx, inc.ID, inc.Version, model.Patch{Status: &status, AssignedDepartment: &dept}, action("admin-1")); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Same expected version again: the write must be refused and nothing
	// appended.
	err := s.ApplyTransition(ctx, inc.ID, inc.Version, model.Patch{Status: &status, AssignedDepartment: &dept}, action("admin-2"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	actions, _ := s.ListActions(ctx, inc.ID)
	if len(actions) != 2 {
		t.Fatalf("conflicting transition must not append an action, got %d", len(actions))
	}
}

func TestApplyTransitionUnknownIncident(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	status := model.StatusAssigned
	err := s.ApplyTransition(context.Background(), "nope", 1, model.Patch{Status: &status},
		&model.Action{Action: "approved_and_assigned", PerformedBy: "admin-1", CreatedAt: time.Now().UTC()})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestListIncidentsFilters(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	ctx := context.Background()
	a := createTestIncident(t, s)
	b := createTestIncident(t, s)

	status := model.StatusAssigned
	dept := "Edhi Foundation"
	if err := s.ApplyTransition(ctx, a.ID, a.Version, model.Patch{Status: &status, AssignedDepartment: &dept},
		&model.Action{Action: "approved_and_assigned", PerformedBy: "admin-1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	pending, err := s.ListIncidents(ctx, IncidentFilter{Status: string(model.StatusPending)})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("pending = %+v, want only %s", pending, b.ID)
	}

	byDept, err := s.ListIncidents(ctx, IncidentFilter{Department: dept})
	if err != nil {
		t.Fatalf("list by department: %v", err)
	}
	if len(byDept) != 1 || byDept[0].ID != a.ID {
		t.Fatalf("by department = %+v, want only %s", byDept, a.ID)
	}

	byReporter, err := s.ListIncidents(ctx, IncidentFilter{ReportedBy: "citizen-1"})
	if err != nil {
		t.Fatalf("list by reporter: %v", err)
	}
	if len(byReporter) != 2 {
		t.Fatalf("by reporter = %d, want 2", len(byReporter))
	}
}

func TestListIncidentsPendingBefore(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	ctx := context.Background()
	inc := createTestIncident(t, s)

	future := time.Now().UTC().Add(time.Hour)
	stale, err := s.ListIncidents(ctx, IncidentFilter{PendingBefore: &future})
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != inc.ID {
		t.Fatalf("stale = %+v, want %s", stale, inc.ID)
	}

	// Stamp escalated_at; the incident must drop out of the sweep.
	now := time.Now().UTC()
	if err := s.ApplyTransition(ctx, inc.ID, inc.Version, model.Patch{EscalatedAt: &now},
		&model.Action{Action: "escalated", PerformedBy: "system", CreatedAt: now}); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	stale, err = s.ListIncidents(ctx, IncidentFilter{PendingBefore: &future})
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("escalated incident must not re-appear, got %d", len(stale))
	}

	past := time.Now().UTC().Add(-time.Hour)
	stale, err = s.ListIncidents(ctx, IncidentFilter{PendingBefore: &past})
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh incident must not be stale, got %d", len(stale))
	}
}

func TestAddPhotosAppends(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	ctx := context.Background()
	inc := createTestIncident(t, s)

	photos := []model.Photo{
		{Filename: "a.jpg", SizeBytes: 100, MimeType: "image/jpeg"},
		{Filename: "b.jpg", SizeBytes: 200, MimeType: "image/jpeg"},
	}
	if err := s.AddPhotos(ctx, inc.ID, photos); err != nil {
		t.Fatalf("add photos: %v", err)
	}
	got, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(got.Photos))
	}
	if got.Photos[0].Filename != "a.jpg" || got.Photos[1].Filename != "b.jpg" {
		t.Fatalf("photo order = %+v", got.Photos)
	}
}

func TestGetIncidentMissingReturnsNil(t *testing.T) {
	s := NewIncidentsStore(setupDB(t))
	got, err := s.GetIncident(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil for missing incident, got %+v", got)
	}
}
