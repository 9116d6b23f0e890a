// Package workflow is the incident state machine. It plans transitions on
// the three status axes (status, driverStatus, hospitalStatus) as pure data:
// given the current incident and a request, Plan returns the patch to apply
// and the action-log entry to append, or a typed error. It performs no IO;
// persistence and authorization live elsewhere.
package workflow

import (
	"fmt"
	"time"

	"rahat-ems/core/model"
)

// Request is one named transition. Exactly one variant exists per verb the
// system exposes, so the cross-axis coupling rules are enumerable.
type Request interface {
	transitionName() string
}

// Approve moves a pending incident to assigned and binds a department.
type Approve struct {
	Department string
	Reason     string
}

// Reject closes a pending incident with a mandatory reason.
type Reject struct {
	Reason string
}

// AssignDriver binds a driver to an already-department-assigned incident.
// DriverName is the denormalized snapshot recorded at assignment time.
type AssignDriver struct {
	DriverID   string
	DriverName string
	Department string
}

// DriverUpdate advances the driver axis.
type DriverUpdate struct {
	To               model.DriverStatus
	Hospital         string
	PatientCondition string
}

// PickupUpdate is the driver-reported alternate terminal path that bypasses
// hospital handoff.
type PickupUpdate struct {
	To    model.PickupStatus
	Notes string
}

// HospitalUpdate advances the hospital axis.
type HospitalUpdate struct {
	To           model.HospitalStatus
	Condition    string
	MedicalNotes string
	Treatment    string
	Doctor       string
	BedNumber    string
}

func (Approve) transitionName() string        { return "approve" }
func (Reject) transitionName() string         { return "reject" }
func (AssignDriver) transitionName() string   { return "assign_driver" }
func (r DriverUpdate) transitionName() string { return "driver_" + string(r.To) }
func (r PickupUpdate) transitionName() string { return "patient_pickup_" + string(r.To) }
func (r HospitalUpdate) transitionName() string {
	return "hospital_" + string(r.To)
}

// Plan holds the outcome of a planned transition. A nil Action with a nil
// error means the request was a recognized no-op (idempotent reapply).
type Plan struct {
	Patch  model.Patch
	Action *model.Action
}

// Planner validates and plans transitions. Departments is the fixed set an
// incident may be assigned to.
type Planner struct {
	Departments []string
}

func (p *Planner) validDepartment(dept string) bool {
	for _, d := range p.Departments {
		if d == dept {
			return true
		}
	}
	return false
}

// PlanTransition consults the transition table and computes the coupled side
// effects for the request. Timestamps are set only if not already recorded.
func (p *Planner) PlanTransition(inc *model.Incident, actor model.Actor, req Request, now time.Time) (Plan, error) {
	now = now.UTC()
	switch r := req.(type) {
	case Approve:
		return p.planApprove(inc, actor, r, now)
	case Reject:
		return p.planReject(inc, actor, r, now)
	case AssignDriver:
		return p.planAssignDriver(inc, actor, r, now)
	case DriverUpdate:
		return p.planDriverUpdate(inc, actor, r, now)
	case PickupUpdate:
		return p.planPickupUpdate(inc, actor, r, now)
	case HospitalUpdate:
		return p.planHospitalUpdate(inc, actor, r, now)
	default:
		return Plan{}, fmt.Errorf("unknown transition request %T", req)
	}
}

func (p *Planner) planApprove(inc *model.Incident, actor model.Actor, r Approve, now time.Time) (Plan, error) {
	if !p.validDepartment(r.Department) {
		return Plan{}, model.Invalid("department", "must be one of the configured departments")
	}
	// Re-approving an incident already assigned to the same department is a
	// no-op: no duplicate action-log entry.
	if inc.Status == model.StatusAssigned && inc.AssignedTo.Department == r.Department {
		return Plan{}, nil
	}
	if inc.Status != model.StatusPending {
		return Plan{}, invalidStatus(inc.Status, model.StatusAssigned)
	}
	reason := r.Reason
	if reason == "" {
		reason = "Approved by admin"
	}
	status := model.StatusAssigned
	return Plan{
		Patch: model.Patch{
			Status:             &status,
			AssignedDepartment: &r.Department,
			AssignedBy:         &actor.ID,
			AssignedAt:         &now,
		},
		Action: &model.Action{
			Action:      "approved_and_assigned",
			PerformedBy: actor.ID,
			Details:     map[string]any{"department": r.Department, "reason": reason},
			CreatedAt:   now,
		},
	}, nil
}

func (p *Planner) planReject(inc *model.Incident, actor model.Actor, r Reject, now time.Time) (Plan, error) {
	if r.Reason == "" {
		return Plan{}, model.Invalid("reason", "required")
	}
	if inc.Status != model.StatusPending {
		return Plan{}, invalidStatus(inc.Status, model.StatusRejected)
	}
	status := model.StatusRejected
	return Plan{
		Patch: model.Patch{Status: &status, RejectReason: &r.Reason},
		Action: &model.Action{
			Action:      "rejected",
			PerformedBy: actor.ID,
			Details:     map[string]any{"reason": r.Reason},
			CreatedAt:   now,
		},
	}, nil
}

func (p *Planner) planAssignDriver(inc *model.Incident, actor model.Actor, r AssignDriver, now time.Time) (Plan, error) {
	if r.DriverID == "" {
		return Plan{}, model.Invalid("driver_id", "required")
	}
	if inc.Status != model.StatusAssigned {
		return Plan{}, invalidStatus(inc.Status, model.StatusAssigned)
	}
	// The department bound at approval is authoritative; a driver from another
	// department cannot be assigned, and the binding is never rewritten here.
	department := inc.AssignedTo.Department
	if department == "" {
		department = r.Department
	} else if r.Department != "" && r.Department != department {
		return Plan{}, model.Invalid("driver_id", "driver belongs to a different department")
	}
	status := model.StatusAssigned
	patch := model.Patch{
		Status:             &status,
		AssignedDriver:     &r.DriverID,
		AssignedDriverName: &r.DriverName,
		AssignedBy:         &actor.ID,
		AssignedAt:         &now,
	}
	if department != "" {
		patch.AssignedDepartment = &department
	}
	return Plan{
		Patch: patch,
		Action: &model.Action{
			Action:      "driver_assigned",
			PerformedBy: actor.ID,
			Details:     map[string]any{"driver": r.DriverID, "driver_name": r.DriverName, "department": department},
			CreatedAt:   now,
		},
	}, nil
}

func (p *Planner) planDriverUpdate(inc *model.Incident, actor model.Actor, r DriverUpdate, now time.Time) (Plan, error) {
	if !r.To.Valid() || r.To == model.DriverAssigned {
		return Plan{}, model.Invalid("status", "unknown driver status")
	}
	from := inc.DriverStatus
	patch := model.Patch{}
	details := map[string]any{}

	switch r.To {
	case model.DriverArrived:
		if from != model.DriverAssigned {
			return Plan{}, invalidDriver(from, r.To)
		}
		status := model.StatusInProgress
		arrived := r.To
		patch.DriverStatus = &arrived
		patch.Status = &status
		if inc.Timestamps.ArrivedAt == nil {
			patch.ArrivedAt = &now
		}

	case model.DriverTransporting:
		if from != model.DriverArrived {
			return Plan{}, invalidDriver(from, r.To)
		}
		if r.Hospital == "" {
			return Plan{}, model.Invalid("hospital", "required when transporting")
		}
		transporting := r.To
		incoming := model.HospitalIncoming
		condition := r.PatientCondition
		if condition == "" {
			condition = "Being transported to hospital"
		}
		patch.DriverStatus = &transporting
		patch.HospitalStatus = &incoming
		patch.PatientHospital = &r.Hospital
		patch.PatientCondition = &condition
		patch.PatientUpdatedAt = &now
		if inc.Timestamps.TransportingAt == nil {
			patch.TransportingAt = &now
		}
		details["hospital"] = r.Hospital
		details["condition"] = condition

	case model.DriverDelivered:
		if from != model.DriverTransporting {
			return Plan{}, invalidDriver(from, r.To)
		}
		hospital := r.Hospital
		if hospital == "" {
			hospital = inc.PatientStatus.Hospital
		}
		if hospital == "" {
			return Plan{}, model.Invalid("hospital", "required when delivering")
		}
		// Delivered folds into completed on the driver axis and forces the
		// hospital axis to incoming so the receiving hospital sees it.
		completed := model.DriverCompleted
		incoming := model.HospitalIncoming
		status := model.StatusCompleted
		condition := r.PatientCondition
		if condition == "" {
			condition = "Delivered to hospital"
		}
		patch.DriverStatus = &completed
		patch.HospitalStatus = &incoming
		patch.Status = &status
		patch.PatientHospital = &hospital
		patch.PatientCondition = &condition
		patch.PatientUpdatedAt = &now
		if inc.Timestamps.DeliveredAt == nil {
			patch.DeliveredAt = &now
		}
		if inc.Timestamps.CompletedAt == nil {
			patch.CompletedAt = &now
		}
		details["hospital"] = hospital
		details["condition"] = condition

	case model.DriverCompleted:
		// Valid from any non-terminal driver state; reapplying when already
		// completed is a no-op.
		if from == model.DriverCompleted {
			return Plan{}, nil
		}
		completed := model.DriverCompleted
		status := model.StatusCompleted
		patch.DriverStatus = &completed
		patch.Status = &status
		if inc.Timestamps.CompletedAt == nil {
			patch.CompletedAt = &now
		}
	}

	return Plan{
		Patch: patch,
		Action: &model.Action{
			Action:      "driver_" + string(r.To),
			PerformedBy: actor.ID,
			Details:     details,
			CreatedAt:   now,
		},
	}, nil
}

func (p *Planner) planPickupUpdate(inc *model.Incident, actor model.Actor, r PickupUpdate, now time.Time) (Plan, error) {
	if !r.To.Valid() {
		return Plan{}, model.Invalid("pickup_status", "must be one of picked_up, taken_by_someone, expired")
	}
	from := inc.DriverStatus
	// A closed incident accepts no pickup updates.
	if inc.Status.Terminal() {
		target := model.DriverCompleted
		if r.To == model.PickupPickedUp {
			target = model.DriverTransporting
		}
		return Plan{}, invalidDriver(from, target)
	}
	patch := model.Patch{PickupStatus: &r.To}
	if r.Notes != "" {
		patch.PickupNotes = &r.Notes
	}
	details := map[string]any{"pickup_status": string(r.To)}
	if r.Notes != "" {
		details["notes"] = r.Notes
	}

	switch r.To {
	case model.PickupPickedUp:
		if from != model.DriverAssigned && from != model.DriverArrived {
			return Plan{}, invalidDriver(from, model.DriverTransporting)
		}
		transporting := model.DriverTransporting
		patch.DriverStatus = &transporting
	case model.PickupTakenBySomeone, model.PickupExpired:
		completed := model.DriverCompleted
		status := model.StatusCompleted
		patch.DriverStatus = &completed
		patch.Status = &status
		if inc.Timestamps.CompletedAt == nil {
			patch.CompletedAt = &now
		}
	}

	return Plan{
		Patch: patch,
		Action: &model.Action{
			Action:      "patient_pickup_" + string(r.To),
			PerformedBy: actor.ID,
			Details:     details,
			CreatedAt:   now,
		},
	}, nil
}

func (p *Planner) planHospitalUpdate(inc *model.Incident, actor model.Actor, r HospitalUpdate, now time.Time) (Plan, error) {
	if !r.To.Valid() {
		return Plan{}, model.Invalid("status", "unknown hospital status")
	}
	from := inc.HospitalStatus
	patch := model.Patch{}
	details := map[string]any{}

	switch {
	case from == model.HospitalIncoming && r.To == model.HospitalAdmitted:
		admitted := r.To
		patch.HospitalStatus = &admitted
		if inc.Timestamps.AdmittedAt == nil {
			patch.AdmittedAt = &now
		}
	case from == model.HospitalAdmitted && r.To == model.HospitalDischarged:
		// Discharge closes out every axis.
		discharged := r.To
		completed := model.DriverCompleted
		status := model.StatusCompleted
		patch.HospitalStatus = &discharged
		patch.DriverStatus = &completed
		patch.Status = &status
		if inc.Timestamps.DischargedAt == nil {
			patch.DischargedAt = &now
		}
		if inc.Timestamps.CompletedAt == nil {
			patch.CompletedAt = &now
		}
	default:
		return Plan{}, &model.InvalidTransitionError{Axis: "hospitalStatus", From: string(from), To: string(r.To)}
	}

	if r.Condition != "" {
		patch.PatientCondition = &r.Condition
		details["condition"] = r.Condition
	}
	if r.MedicalNotes != "" {
		patch.MedicalNotes = &r.MedicalNotes
		details["medical_notes"] = r.MedicalNotes
	}
	if r.Treatment != "" {
		patch.Treatment = &r.Treatment
		details["treatment"] = r.Treatment
	}
	if r.Doctor != "" {
		patch.Doctor = &r.Doctor
		details["doctor"] = r.Doctor
	}
	if r.BedNumber != "" {
		patch.BedNumber = &r.BedNumber
		details["bed_number"] = r.BedNumber
	}
	if patch.PatientCondition != nil || patch.MedicalNotes != nil || patch.Treatment != nil ||
		patch.Doctor != nil || patch.BedNumber != nil {
		patch.PatientUpdatedAt = &now
	}

	return Plan{
		Patch: patch,
		Action: &model.Action{
			Action:      "hospital_" + string(r.To),
			PerformedBy: actor.ID,
			Details:     details,
			CreatedAt:   now,
		},
	}, nil
}

func invalidStatus(from, to model.Status) error {
	return &model.InvalidTransitionError{Axis: "status", From: string(from), To: string(to)}
}

func invalidDriver(from, to model.DriverStatus) error {
	return &model.InvalidTransitionError{Axis: "driverStatus", From: string(from), To: string(to)}
}
