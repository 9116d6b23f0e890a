package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"rahat-ems/core/model"
)

// ErrConflict is returned when a version-guarded write matched no row: the
// incident changed under the caller (or does not exist in that state).
var ErrConflict = errors.New("conflict")

type IncidentFilter struct {
	Status          string
	StatusIn        []string
	DriverStatus    string
	HospitalStatus  string
	ReportedBy      string
	AssignedDriver  string
	Department      string
	PatientHospital string
	// PendingBefore selects pending incidents created before the given
	// instant that have not been escalated yet.
	PendingBefore *time.Time
	Limit         int
	Offset        int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, inc *model.Incident, first *model.Action) (string, error)
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error)
	// ApplyTransition performs the guard-check-then-write atomically: the
	// patch is applied only if the stored version still equals
	// expectedVersion, and the action row is appended in the same
	// transaction. A stale version yields ErrConflict and nothing changes.
	ApplyTransition(ctx context.Context, id string, expectedVersion int, patch model.Patch, action *model.Action) error
	AddPhotos(ctx context.Context, id string, photos []model.Photo) error
	ListActions(ctx context.Context, id string) ([]model.Action, error)
}

type incidentsStore struct {
	db *DB
}

func NewIncidentsStore(db *DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, reported_by, description, category, priority, lon, lat, address,
	status, driver_status, hospital_status, pickup_status, pickup_notes,
	assigned_department, assigned_driver, assigned_driver_name, assigned_at, assigned_by,
	patient_condition, patient_hospital, medical_notes, treatment, doctor, bed_number, patient_updated_at,
	reject_reason, reported_at, arrived_at, transporting_at, delivered_at, admitted_at, discharged_at, completed_at, escalated_at,
	created_at, updated_at, version`

func validateIncident(inc *model.Incident) error {
	if strings.TrimSpace(inc.ReportedBy) == "" {
		return model.Invalid("reported_by", "required")
	}
	if !inc.Location.ValidCoordinates() {
		return model.Invalid("location.coordinates", "must be a [lon, lat] pair within range")
	}
	if !inc.Status.Valid() {
		return model.Invalid("status", "unknown value")
	}
	if !inc.DriverStatus.Valid() {
		return model.Invalid("driver_status", "unknown value")
	}
	if !inc.HospitalStatus.Valid() {
		return model.Invalid("hospital_status", "unknown value")
	}
	if !inc.Priority.Valid() {
		return model.Invalid("priority", "unknown value")
	}
	if !model.ValidCategory(inc.Category) {
		return model.Invalid("category", "unknown value")
	}
	if inc.PickupStatus != "" && !inc.PickupStatus.Valid() {
		return model.Invalid("pickup_status", "unknown value")
	}
	return nil
}

func (s *incidentsStore) CreateIncident(ctx context.Context, inc *model.Incident, first *model.Action) (string, error) {
	if strings.TrimSpace(inc.ID) == "" {
		inc.ID = uuid.Must(uuid.NewV4()).String()
	}
	now := time.Now().UTC()
	if inc.Status == "" {
		inc.Status = model.StatusPending
	}
	if inc.DriverStatus == "" {
		inc.DriverStatus = model.DriverAssigned
	}
	if inc.HospitalStatus == "" {
		inc.HospitalStatus = model.HospitalPending
	}
	if inc.Category == "" {
		inc.Category = model.CategoryAccident
	}
	if inc.Priority == "" {
		inc.Priority = model.PriorityHigh
	}
	if inc.Version <= 0 {
		inc.Version = 1
	}
	if inc.Timestamps.ReportedAt.IsZero() {
		inc.Timestamps.ReportedAt = now
	}
	if err := validateIncident(inc); err != nil {
		return "", err
	}
	inc.CreatedAt = now
	inc.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		inc.ID, inc.ReportedBy, inc.Description, inc.Category, string(inc.Priority),
		inc.Location.Lon, inc.Location.Lat, inc.Location.Address,
		string(inc.Status), string(inc.DriverStatus), string(inc.HospitalStatus),
		string(inc.PickupStatus), inc.PickupNotes,
		inc.AssignedTo.Department, inc.AssignedTo.Driver, inc.AssignedTo.DriverName,
		nullableTime(inc.AssignedTo.AssignedAt), inc.AssignedTo.AssignedBy,
		inc.PatientStatus.Condition, inc.PatientStatus.Hospital, inc.PatientStatus.MedicalNotes,
		inc.PatientStatus.Treatment, inc.PatientStatus.Doctor, inc.PatientStatus.BedNumber,
		nullableTime(inc.PatientStatus.UpdatedAt),
		inc.RejectReason, inc.Timestamps.ReportedAt,
		nullableTime(inc.Timestamps.ArrivedAt), nullableTime(inc.Timestamps.TransportingAt),
		nullableTime(inc.Timestamps.DeliveredAt), nullableTime(inc.Timestamps.AdmittedAt),
		nullableTime(inc.Timestamps.DischargedAt), nullableTime(inc.Timestamps.CompletedAt),
		nullableTime(inc.Timestamps.EscalatedAt),
		now, now, inc.Version)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	for i, p := range inc.Photos {
		if err := insertPhotoTx(ctx, s.db, tx, inc.ID, i+1, &p); err != nil {
			tx.Rollback()
			return "", err
		}
		inc.Photos[i] = p
	}
	if first != nil {
		if err := s.appendActionTx(ctx, tx, inc.ID, first); err != nil {
			tx.Rollback()
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return inc.ID, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+incidentColumns+` FROM incidents WHERE id=?`), id)
	inc, err := scanIncident(row)
	if err != nil || inc == nil {
		return inc, err
	}
	photos, err := s.listPhotos(ctx, id)
	if err != nil {
		return nil, err
	}
	inc.Photos = photos
	return inc, nil
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error) {
	var clauses []string
	var args []any
	if len(filter.StatusIn) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filter.StatusIn)), ",")
		clauses = append(clauses, "status IN ("+placeholders+")")
		for _, v := range filter.StatusIn {
			args = append(args, v)
		}
	} else if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.DriverStatus != "" {
		clauses = append(clauses, "driver_status=?")
		args = append(args, filter.DriverStatus)
	}
	if filter.HospitalStatus != "" {
		clauses = append(clauses, "hospital_status=?")
		args = append(args, filter.HospitalStatus)
	}
	if filter.ReportedBy != "" {
		clauses = append(clauses, "reported_by=?")
		args = append(args, filter.ReportedBy)
	}
	if filter.AssignedDriver != "" {
		clauses = append(clauses, "assigned_driver=?")
		args = append(args, filter.AssignedDriver)
	}
	if filter.Department != "" {
		clauses = append(clauses, "assigned_department=?")
		args = append(args, filter.Department)
	}
	if filter.PatientHospital != "" {
		clauses = append(clauses, "patient_hospital=?")
		args = append(args, filter.PatientHospital)
	}
	if filter.PendingBefore != nil {
		clauses = append(clauses, "status=? AND created_at < ? AND escalated_at IS NULL")
		args = append(args, string(model.StatusPending), filter.PendingBefore.UTC())
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ApplyTransition(ctx context.Context, id string, expectedVersion int, patch model.Patch, action *model.Action) error {
	sets, args := patchClauses(patch)
	now := time.Now().UTC()
	sets = append(sets, "updated_at=?", "version=version+1")
	args = append(args, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	args = append(args, id, expectedVersion)
	res, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE incidents SET `+strings.Join(sets, ", ")+` WHERE id=? AND version=?`), args...)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrConflict
	}
	if action != nil {
		if err := s.appendActionTx(ctx, tx, id, action); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *incidentsStore) AddPhotos(ctx context.Context, id string, photos []model.Photo) error {
	if len(photos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var next int
	if err := tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COALESCE(MAX(pos), 0) FROM incident_photos WHERE incident_id=?`), id).Scan(&next); err != nil {
		tx.Rollback()
		return err
	}
	for i := range photos {
		next++
		if err := insertPhotoTx(ctx, s.db, tx, id, next, &photos[i]); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *incidentsStore) ListActions(ctx context.Context, id string) ([]model.Action, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, seq, action, performed_by, details, created_at
		FROM incident_actions WHERE incident_id=? ORDER BY seq ASC`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Action
	for rows.Next() {
		var a model.Action
		var detailsRaw string
		if err := rows.Scan(&a.ID, &a.Seq, &a.Action, &a.PerformedBy, &detailsRaw, &a.CreatedAt); err != nil {
			return nil, err
		}
		if strings.TrimSpace(detailsRaw) != "" {
			_ = json.Unmarshal([]byte(detailsRaw), &a.Details)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *incidentsStore) appendActionTx(ctx context.Context, tx *sql.Tx, incidentID string, action *model.Action) error {
	var seq int
	if err := tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM incident_actions WHERE incident_id=?`), incidentID).Scan(&seq); err != nil {
		return err
	}
	if action.ID == "" {
		action.ID = uuid.Must(uuid.NewV4()).String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	details := "{}"
	if len(action.Details) > 0 {
		if raw, err := json.Marshal(action.Details); err == nil {
			details = string(raw)
		}
	}
	action.Seq = seq
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO incident_actions(id, incident_id, seq, action, performed_by, details, created_at)
		VALUES(?,?,?,?,?,?,?)`),
		action.ID, incidentID, seq, action.Action, action.PerformedBy, details, action.CreatedAt)
	return err
}

func insertPhotoTx(ctx context.Context, db *DB, tx *sql.Tx, incidentID string, pos int, p *model.Photo) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV4()).String()
	}
	if p.UploadedAt.IsZero() {
		p.UploadedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, db.Rebind(`
		INSERT INTO incident_photos(id, incident_id, pos, filename, original_name, size_bytes, mime_type, uploaded_at)
		VALUES(?,?,?,?,?,?,?,?)`),
		p.ID, incidentID, pos, p.Filename, p.OriginalName, p.SizeBytes, p.MimeType, p.UploadedAt)
	return err
}

func (s *incidentsStore) listPhotos(ctx context.Context, incidentID string) ([]model.Photo, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, filename, original_name, size_bytes, mime_type, uploaded_at
		FROM incident_photos WHERE incident_id=? ORDER BY pos ASC`), incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Photo
	for rows.Next() {
		var p model.Photo
		if err := rows.Scan(&p.ID, &p.Filename, &p.OriginalName, &p.SizeBytes, &p.MimeType, &p.UploadedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func patchClauses(patch model.Patch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		sets = append(sets, column+"=?")
		args = append(args, value)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.DriverStatus != nil {
		add("driver_status", string(*patch.DriverStatus))
	}
	if patch.HospitalStatus != nil {
		add("hospital_status", string(*patch.HospitalStatus))
	}
	if patch.PickupStatus != nil {
		add("pickup_status", string(*patch.PickupStatus))
	}
	if patch.PickupNotes != nil {
		add("pickup_notes", *patch.PickupNotes)
	}
	if patch.AssignedDepartment != nil {
		add("assigned_department", *patch.AssignedDepartment)
	}
	if patch.AssignedDriver != nil {
		add("assigned_driver", *patch.AssignedDriver)
	}
	if patch.AssignedDriverName != nil {
		add("assigned_driver_name", *patch.AssignedDriverName)
	}
	if patch.AssignedBy != nil {
		add("assigned_by", *patch.AssignedBy)
	}
	if patch.AssignedAt != nil {
		add("assigned_at", patch.AssignedAt.UTC())
	}
	if patch.PatientCondition != nil {
		add("patient_condition", *patch.PatientCondition)
	}
	if patch.PatientHospital != nil {
		add("patient_hospital", *patch.PatientHospital)
	}
	if patch.MedicalNotes != nil {
		add("medical_notes", *patch.MedicalNotes)
	}
	if patch.Treatment != nil {
		add("treatment", *patch.Treatment)
	}
	if patch.Doctor != nil {
		add("doctor", *patch.Doctor)
	}
	if patch.BedNumber != nil {
		add("bed_number", *patch.BedNumber)
	}
	if patch.PatientUpdatedAt != nil {
		add("patient_updated_at", patch.PatientUpdatedAt.UTC())
	}
	if patch.RejectReason != nil {
		add("reject_reason", *patch.RejectReason)
	}
	if patch.ArrivedAt != nil {
		add("arrived_at", patch.ArrivedAt.UTC())
	}
	if patch.TransportingAt != nil {
		add("transporting_at", patch.TransportingAt.UTC())
	}
	if patch.DeliveredAt != nil {
		add("delivered_at", patch.DeliveredAt.UTC())
	}
	if patch.AdmittedAt != nil {
		add("admitted_at", patch.AdmittedAt.UTC())
	}
	if patch.DischargedAt != nil {
		add("discharged_at", patch.DischargedAt.UTC())
	}
	if patch.CompletedAt != nil {
		add("completed_at", patch.CompletedAt.UTC())
	}
	if patch.EscalatedAt != nil {
		add("escalated_at", patch.EscalatedAt.UTC())
	}
	return sets, args
}

func scanIncident(row *sql.Row) (*model.Incident, error) {
	inc, err := scanIncidentFrom(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inc, nil
}

func scanIncidentRow(rows *sql.Rows) (model.Incident, error) {
	return scanIncidentFrom(rows.Scan)
}

func scanIncidentFrom(scan func(dest ...any) error) (model.Incident, error) {
	var inc model.Incident
	var priority, status, driverStatus, hospitalStatus, pickupStatus string
	var assignedAt, patientUpdatedAt sql.NullTime
	var arrivedAt, transportingAt, deliveredAt, admittedAt, dischargedAt, completedAt, escalatedAt sql.NullTime
	err := scan(&inc.ID, &inc.ReportedBy, &inc.Description, &inc.Category, &priority,
		&inc.Location.Lon, &inc.Location.Lat, &inc.Location.Address,
		&status, &driverStatus, &hospitalStatus, &pickupStatus, &inc.PickupNotes,
		&inc.AssignedTo.Department, &inc.AssignedTo.Driver, &inc.AssignedTo.DriverName,
		&assignedAt, &inc.AssignedTo.AssignedBy,
		&inc.PatientStatus.Condition, &inc.PatientStatus.Hospital, &inc.PatientStatus.MedicalNotes,
		&inc.PatientStatus.Treatment, &inc.PatientStatus.Doctor, &inc.PatientStatus.BedNumber,
		&patientUpdatedAt,
		&inc.RejectReason, &inc.Timestamps.ReportedAt,
		&arrivedAt, &transportingAt, &deliveredAt, &admittedAt, &dischargedAt, &completedAt, &escalatedAt,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.Version)
	if err != nil {
		return inc, err
	}
	inc.Priority = model.Priority(priority)
	inc.Status = model.Status(status)
	inc.DriverStatus = model.DriverStatus(driverStatus)
	inc.HospitalStatus = model.HospitalStatus(hospitalStatus)
	inc.PickupStatus = model.PickupStatus(pickupStatus)
	inc.AssignedTo.AssignedAt = timePtr(assignedAt)
	inc.Timestamps.AssignedAt = timePtr(assignedAt)
	inc.PatientStatus.UpdatedAt = timePtr(patientUpdatedAt)
	inc.Timestamps.ArrivedAt = timePtr(arrivedAt)
	inc.Timestamps.TransportingAt = timePtr(transportingAt)
	inc.Timestamps.DeliveredAt = timePtr(deliveredAt)
	inc.Timestamps.AdmittedAt = timePtr(admittedAt)
	inc.Timestamps.DischargedAt = timePtr(dischargedAt)
	inc.Timestamps.CompletedAt = timePtr(completedAt)
	inc.Timestamps.EscalatedAt = timePtr(escalatedAt)
	return inc, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
