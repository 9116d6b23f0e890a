// Package authz is the single authorization gate consulted before every
// incident operation. Decisions are pure functions of the actor and the
// incident; no store access happens here.
package authz

import (
	"rahat-ems/core/model"
	"rahat-ems/core/store"
)

// Operation names the gated incident mutations.
type Operation string

const (
	OpRead           Operation = "read"
	OpApprove        Operation = "approve"
	OpReject         Operation = "reject"
	OpAssignDriver   Operation = "assign_driver"
	OpDriverUpdate   Operation = "driver_update"
	OpPickupUpdate   Operation = "pickup_update"
	OpHospitalUpdate Operation = "hospital_update"
	OpAddPhotos      Operation = "add_photos"
)

// CanAccess reports whether the actor may read the incident.
func CanAccess(actor model.Actor, inc *model.Incident) bool {
	switch actor.Role {
	case store.RoleSuperadmin, store.RoleAdmin:
		return true
	case store.RoleCitizen:
		return inc.ReportedBy == actor.ID
	case store.RoleDriver:
		return inc.AssignedTo.Driver != "" && inc.AssignedTo.Driver == actor.ID
	case store.RoleDepartment:
		return inc.AssignedTo.Department != "" && inc.AssignedTo.Department == actor.Department
	case store.RoleHospital:
		return inc.PatientStatus.Hospital != "" && inc.PatientStatus.Hospital == actor.Hospital
	}
	return false
}

// CanTransition reports whether the actor may invoke the named operation on
// the incident. Drivers may only move the driver axis of their own incident,
// hospitals only the hospital axis of their own patients.
func CanTransition(actor model.Actor, inc *model.Incident, op Operation) bool {
	switch op {
	case OpRead:
		return CanAccess(actor, inc)
	case OpApprove, OpReject:
		return actor.Role == store.RoleSuperadmin || actor.Role == store.RoleAdmin
	case OpAssignDriver:
		if actor.Role == store.RoleSuperadmin || actor.Role == store.RoleAdmin {
			return true
		}
		return actor.Role == store.RoleDepartment &&
			inc.AssignedTo.Department != "" && inc.AssignedTo.Department == actor.Department
	case OpDriverUpdate, OpPickupUpdate:
		return actor.Role == store.RoleDriver &&
			inc.AssignedTo.Driver != "" && inc.AssignedTo.Driver == actor.ID
	case OpHospitalUpdate:
		return actor.Role == store.RoleHospital &&
			inc.PatientStatus.Hospital != "" && inc.PatientStatus.Hospital == actor.Hospital
	case OpAddPhotos:
		if actor.Role == store.RoleSuperadmin || actor.Role == store.RoleAdmin {
			return true
		}
		return actor.Role == store.RoleCitizen && inc.ReportedBy == actor.ID
	}
	return false
}
