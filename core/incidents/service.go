// Package incidents orchestrates the incident lifecycle: it loads state,
// consults the authorization gate and the workflow planner, applies the
// planned patch atomically and fans out notifications. Notification delivery
// is fire-and-forget; a transition never fails because a recipient could not
// be reached.
package incidents

import (
	"context"
	"fmt"
	"time"

	"rahat-ems/core/authz"
	"rahat-ems/core/geo"
	"rahat-ems/core/model"
	"rahat-ems/core/notify"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
	"rahat-ems/core/workflow"
)

const notifyTimeout = 10 * time.Second

type Service struct {
	incidents store.IncidentsStore
	users     store.UsersStore
	planner   *workflow.Planner
	geocoder  geo.Geocoder
	notifier  notify.Notifier
	logger    *utils.Logger
	now       func() time.Time
}

func NewService(incidents store.IncidentsStore, users store.UsersStore, planner *workflow.Planner,
	geocoder geo.Geocoder, notifier notify.Notifier, logger *utils.Logger) *Service {
	return &Service{
		incidents: incidents,
		users:     users,
		planner:   planner,
		geocoder:  geocoder,
		notifier:  notifier,
		logger:    logger,
		now:       utils.NowUTC,
	}
}

// Draft is a citizen's incident report before defaults are applied.
type Draft struct {
	Description string
	Category    string
	Priority    model.Priority
	Lon         float64
	Lat         float64
	Photos      []model.Photo
}

func (s *Service) Create(ctx context.Context, actor model.Actor, draft Draft) (*model.Incident, error) {
	loc := model.Location{Lon: draft.Lon, Lat: draft.Lat}
	if !loc.ValidCoordinates() {
		return nil, model.Invalid("location.coordinates", "must be a [lon, lat] pair within range")
	}
	loc.Address = s.resolveAddress(ctx, draft.Lat, draft.Lon)

	description := draft.Description
	if description == "" {
		description = "Road accident reported"
	}
	now := s.now()
	inc := &model.Incident{
		ReportedBy:  actor.ID,
		Description: description,
		Category:    draft.Category,
		Priority:    draft.Priority,
		Location:    loc,
		Photos:      draft.Photos,
	}
	first := &model.Action{
		Action:      "reported",
		PerformedBy: actor.ID,
		Details:     map[string]any{"category": model.CategoryAccident},
		CreatedAt:   now,
	}
	id, err := s.incidents.CreateIncident(ctx, inc, first)
	if err != nil {
		return nil, err
	}
	created, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	s.async(func(ctx context.Context) {
		admins, err := s.users.ListActiveByRoles(ctx, store.RoleAdmin, store.RoleSuperadmin)
		if err != nil {
			s.logger.Warnf("incidents: admin fan-out for %s: %v", id, err)
			return
		}
		for _, admin := range admins {
			s.emit(ctx, notify.Event{
				Recipient:       admin.ID,
				Title:           "New emergency reported",
				Message:         fmt.Sprintf("Accident reported at %s", created.Location.Address),
				Type:            "emergency_alert",
				RelatedIncident: id,
			})
		}
	})
	return created, nil
}

func (s *Service) Approve(ctx context.Context, actor model.Actor, id, department, reason string) (*model.Incident, error) {
	inc, err := s.transition(ctx, actor, id, authz.OpApprove, workflow.Approve{Department: department, Reason: reason})
	if err != nil {
		return nil, err
	}
	s.async(func(ctx context.Context) {
		members, err := s.users.ListActiveByRoleAndDepartment(ctx, store.RoleDepartment, department)
		if err != nil {
			s.logger.Warnf("incidents: department fan-out for %s: %v", id, err)
			return
		}
		for _, m := range members {
			s.emit(ctx, notify.Event{
				Recipient:       m.ID,
				Title:           "Incident assigned to your department",
				Message:         fmt.Sprintf("Incident at %s needs an ambulance", inc.Location.Address),
				Type:            "department_assignment",
				RelatedIncident: id,
			})
		}
	})
	return inc, nil
}

func (s *Service) Reject(ctx context.Context, actor model.Actor, id, reason string) (*model.Incident, error) {
	inc, err := s.transition(ctx, actor, id, authz.OpReject, workflow.Reject{Reason: reason})
	if err != nil {
		return nil, err
	}
	s.async(func(ctx context.Context) {
		s.emit(ctx, notify.Event{
			Recipient:       inc.ReportedBy,
			Title:           "Incident report rejected",
			Message:         fmt.Sprintf("Your report was rejected: %s", reason),
			Type:            "incident_update",
			RelatedIncident: id,
		})
	})
	return inc, nil
}

func (s *Service) AssignDriver(ctx context.Context, actor model.Actor, id, driverID string) (*model.Incident, error) {
	driver, err := s.users.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, model.ErrNotFound
	}
	if driver.Role != store.RoleDriver {
		return nil, model.Invalid("driver_id", "user is not a driver")
	}
	if !driver.Active {
		return nil, model.Invalid("driver_id", "driver account is inactive")
	}
	req := workflow.AssignDriver{DriverID: driver.ID, DriverName: driver.Name, Department: driver.Department}
	inc, err := s.transition(ctx, actor, id, authz.OpAssignDriver, req)
	if err != nil {
		return nil, err
	}
	s.async(func(ctx context.Context) {
		s.emit(ctx, notify.Event{
			Recipient:       driver.ID,
			Title:           "New rescue assignment",
			Message:         fmt.Sprintf("You have been assigned to an incident at %s", inc.Location.Address),
			Type:            "driver_assignment",
			RelatedIncident: id,
		})
	})
	return inc, nil
}

func (s *Service) UpdateDriverStatus(ctx context.Context, actor model.Actor, id string, req workflow.DriverUpdate) (*model.Incident, error) {
	inc, err := s.transition(ctx, actor, id, authz.OpDriverUpdate, req)
	if err != nil {
		return nil, err
	}
	s.notifyProgress(inc, fmt.Sprintf("Driver status changed to %s", req.To))
	// The receiving hospital starts seeing the incident when the driver
	// begins transport or hands the patient over.
	if req.To == model.DriverTransporting || req.To == model.DriverDelivered {
		s.notifyHospital(inc, "Incoming patient", fmt.Sprintf("Ambulance %s from %s", req.To, inc.Location.Address))
	}
	return inc, nil
}

func (s *Service) UpdatePatientPickup(ctx context.Context, actor model.Actor, id string, req workflow.PickupUpdate) (*model.Incident, error) {
	inc, err := s.transition(ctx, actor, id, authz.OpPickupUpdate, req)
	if err != nil {
		return nil, err
	}
	s.notifyProgress(inc, fmt.Sprintf("Patient pickup recorded as %s", req.To))
	return inc, nil
}

func (s *Service) UpdateHospitalStatus(ctx context.Context, actor model.Actor, id string, req workflow.HospitalUpdate) (*model.Incident, error) {
	inc, err := s.transition(ctx, actor, id, authz.OpHospitalUpdate, req)
	if err != nil {
		return nil, err
	}
	s.notifyProgress(inc, fmt.Sprintf("Hospital status changed to %s", req.To))
	return inc, nil
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id string) (*model.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, model.ErrNotFound
	}
	if !authz.CanAccess(actor, inc) {
		return nil, model.ErrForbidden
	}
	return inc, nil
}

// Query narrows a listing beyond the caller's role scope.
type Query struct {
	Status         model.Status
	DriverStatus   model.DriverStatus
	HospitalStatus model.HospitalStatus
	Limit          int
	Offset         int
}

func (s *Service) List(ctx context.Context, actor model.Actor, q Query) ([]model.Incident, error) {
	filter := store.IncidentFilter{
		Status:         string(q.Status),
		DriverStatus:   string(q.DriverStatus),
		HospitalStatus: string(q.HospitalStatus),
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
	switch actor.Role {
	case store.RoleSuperadmin, store.RoleAdmin:
	case store.RoleCitizen:
		filter.ReportedBy = actor.ID
	case store.RoleDriver:
		filter.AssignedDriver = actor.ID
	case store.RoleDepartment:
		filter.Department = actor.Department
	case store.RoleHospital:
		filter.PatientHospital = actor.Hospital
	default:
		return nil, model.ErrForbidden
	}
	return s.incidents.ListIncidents(ctx, filter)
}

func (s *Service) AddPhotos(ctx context.Context, actor model.Actor, id string, photos []model.Photo) (*model.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, model.ErrNotFound
	}
	if !authz.CanTransition(actor, inc, authz.OpAddPhotos) {
		return nil, model.ErrForbidden
	}
	if len(photos) == 0 {
		return nil, model.Invalid("photos", "required")
	}
	if err := s.incidents.AddPhotos(ctx, id, photos); err != nil {
		return nil, err
	}
	return s.incidents.GetIncident(ctx, id)
}

func (s *Service) Actions(ctx context.Context, actor model.Actor, id string) ([]model.Action, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, model.ErrNotFound
	}
	if !authz.CanAccess(actor, inc) {
		return nil, model.ErrForbidden
	}
	return s.incidents.ListActions(ctx, id)
}

// transition is the shared load, gate, plan, apply sequence. A version
// conflict is retried once against fresh state; a second conflict surfaces to
// the caller.
func (s *Service) transition(ctx context.Context, actor model.Actor, id string, op authz.Operation, req workflow.Request) (*model.Incident, error) {
	for attempt := 0; ; attempt++ {
		inc, err := s.incidents.GetIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		if inc == nil {
			return nil, model.ErrNotFound
		}
		if !authz.CanTransition(actor, inc, op) {
			return nil, model.ErrForbidden
		}
		plan, err := s.planner.PlanTransition(inc, actor, req, s.now())
		if err != nil {
			return nil, err
		}
		if plan.Action == nil {
			// Recognized no-op, nothing to persist.
			return inc, nil
		}
		err = s.incidents.ApplyTransition(ctx, id, inc.Version, plan.Patch, plan.Action)
		if err == store.ErrConflict && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.incidents.GetIncident(ctx, id)
	}
}

func (s *Service) resolveAddress(ctx context.Context, lat, lon float64) string {
	if s.geocoder == nil {
		return geo.FallbackAddress(lat, lon)
	}
	addr, err := s.geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		s.logger.Warnf("incidents: reverse geocode (%f, %f): %v", lat, lon, err)
		return geo.FallbackAddress(lat, lon)
	}
	return addr
}

func (s *Service) notifyProgress(inc *model.Incident, message string) {
	recipient := inc.ReportedBy
	id := inc.ID
	s.async(func(ctx context.Context) {
		s.emit(ctx, notify.Event{
			Recipient:       recipient,
			Title:           "Incident update",
			Message:         message,
			Type:            "incident_update",
			RelatedIncident: id,
		})
	})
}

func (s *Service) notifyHospital(inc *model.Incident, title, message string) {
	hospital := inc.PatientStatus.Hospital
	if hospital == "" {
		return
	}
	id := inc.ID
	s.async(func(ctx context.Context) {
		staff, err := s.users.ListActiveByRoleAndHospital(ctx, store.RoleHospital, hospital)
		if err != nil {
			s.logger.Warnf("incidents: hospital fan-out for %s: %v", id, err)
			return
		}
		for _, u := range staff {
			s.emit(ctx, notify.Event{
				Recipient:       u.ID,
				Title:           title,
				Message:         message,
				Type:            "hospital_alert",
				RelatedIncident: id,
			})
		}
	})
}

func (s *Service) async(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) emit(ctx context.Context, ev notify.Event) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warnf("incidents: notify %s: %v", ev.Recipient, err)
	}
}
