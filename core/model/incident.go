package model

import "time"

// Status is the coarse incident lifecycle, the field dashboards key off.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusAssigned,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the incident is logically closed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// DriverStatus tracks the ambulance-driver leg of the workflow. It is
// meaningful only once a driver is bound to the incident.
type DriverStatus string

const (
	DriverAssigned     DriverStatus = "assigned"
	DriverArrived      DriverStatus = "arrived"
	DriverTransporting DriverStatus = "transporting"
	DriverDelivered    DriverStatus = "delivered"
	DriverCompleted    DriverStatus = "completed"
)

func (s DriverStatus) Valid() bool {
	switch s {
	case DriverAssigned, DriverArrived, DriverTransporting, DriverDelivered, DriverCompleted:
		return true
	}
	return false
}

// HospitalStatus tracks the hospital leg. It is meaningful only once a
// hospital is recorded in PatientStatus.Hospital.
type HospitalStatus string

const (
	HospitalPending    HospitalStatus = "pending"
	HospitalIncoming   HospitalStatus = "incoming"
	HospitalAdmitted   HospitalStatus = "admitted"
	HospitalDischarged HospitalStatus = "discharged"
	HospitalCancelled  HospitalStatus = "cancelled"
)

func (s HospitalStatus) Valid() bool {
	switch s {
	case HospitalPending, HospitalIncoming, HospitalAdmitted, HospitalDischarged, HospitalCancelled:
		return true
	}
	return false
}

// PickupStatus is the alternate terminal path reported by a driver when no
// hospital transport happens.
type PickupStatus string

const (
	PickupPickedUp       PickupStatus = "picked_up"
	PickupTakenBySomeone PickupStatus = "taken_by_someone"
	PickupExpired        PickupStatus = "expired"
)

func (s PickupStatus) Valid() bool {
	switch s {
	case PickupPickedUp, PickupTakenBySomeone, PickupExpired:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// The reporting flow covers road accidents only; the category vocabulary is
// a single value.
const CategoryAccident = "Accident"

func ValidCategory(c string) bool {
	return c == CategoryAccident
}

type Location struct {
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Address string  `json:"address"`
}

func (l Location) ValidCoordinates() bool {
	return l.Lon >= -180 && l.Lon <= 180 && l.Lat >= -90 && l.Lat <= 90
}

type Photo struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Assignment binds an incident to a department and, later, a driver.
// DriverName is a snapshot taken at assignment time; it may drift from the
// user record and is never treated as a live join.
type Assignment struct {
	Department string     `json:"department,omitempty"`
	Driver     string     `json:"driver,omitempty"`
	DriverName string     `json:"driver_name,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	AssignedBy string     `json:"assigned_by,omitempty"`
}

// Patient is the hospital-writable denormalized patient block.
type Patient struct {
	Condition    string     `json:"condition,omitempty"`
	Hospital     string     `json:"hospital,omitempty"`
	MedicalNotes string     `json:"medical_notes,omitempty"`
	Treatment    string     `json:"treatment,omitempty"`
	Doctor       string     `json:"doctor,omitempty"`
	BedNumber    string     `json:"bed_number,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Timestamps are named instants, each set exactly once the first time the
// corresponding transition occurs.
type Timestamps struct {
	ReportedAt     time.Time  `json:"reported_at"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ArrivedAt      *time.Time `json:"arrived_at,omitempty"`
	TransportingAt *time.Time `json:"transporting_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	AdmittedAt     *time.Time `json:"admitted_at,omitempty"`
	DischargedAt   *time.Time `json:"discharged_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	EscalatedAt    *time.Time `json:"escalated_at,omitempty"`
}

type Action struct {
	ID          string         `json:"id"`
	Seq         int            `json:"seq"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Incident struct {
	ID             string         `json:"id"`
	ReportedBy     string         `json:"reported_by"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Priority       Priority       `json:"priority"`
	Location       Location       `json:"location"`
	Photos         []Photo        `json:"photos,omitempty"`
	Status         Status         `json:"status"`
	DriverStatus   DriverStatus   `json:"driver_status"`
	HospitalStatus HospitalStatus `json:"hospital_status"`
	PickupStatus   PickupStatus   `json:"pickup_status,omitempty"`
	PickupNotes    string         `json:"pickup_notes,omitempty"`
	AssignedTo     Assignment     `json:"assigned_to"`
	PatientStatus  Patient        `json:"patient_status"`
	RejectReason   string         `json:"reject_reason,omitempty"`
	Timestamps     Timestamps     `json:"timestamps"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int            `json:"version"`
}

// Patch carries only the field-groups a single transition changes. Nil
// pointers are left untouched by the store; the write is last-write-wins per
// field-group.
type Patch struct {
	Status         *Status
	DriverStatus   *DriverStatus
	HospitalStatus *HospitalStatus

	PickupStatus *PickupStatus
	PickupNotes  *string

	AssignedDepartment *string
	AssignedDriver     *string
	AssignedDriverName *string
	AssignedBy         *string
	AssignedAt         *time.Time

	PatientCondition *string
	PatientHospital  *string
	MedicalNotes     *string
	Treatment        *string
	Doctor           *string
	BedNumber        *string
	PatientUpdatedAt *time.Time

	RejectReason *string

	ArrivedAt      *time.Time
	TransportingAt *time.Time
	DeliveredAt    *time.Time
	AdmittedAt     *time.Time
	DischargedAt   *time.Time
	CompletedAt    *time.Time
	EscalatedAt    *time.Time
}
