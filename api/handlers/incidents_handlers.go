package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"rahat-ems/core/auth"
	"rahat-ems/core/incidents"
	"rahat-ems/core/model"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
	"rahat-ems/core/workflow"
)

type IncidentsHandler struct {
	svc    *incidents.Service
	audits store.AuditStore
	logger *utils.Logger
}

func NewIncidentsHandler(svc *incidents.Service, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{svc: svc, audits: audits, logger: logger}
}

func actorFrom(r *http.Request) (model.Actor, bool) {
	actor, ok := r.Context().Value(auth.ActorContextKey).(model.Actor)
	return actor, ok
}

type createIncidentRequest struct {
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Priority    string        `json:"priority"`
	Location    locationInput `json:"location"`
	Photos      []photoInput  `json:"photos"`
}

// locationInput accepts GeoJSON-style coordinates: [lon, lat].
type locationInput struct {
	Coordinates []float64 `json:"coordinates"`
}

type photoInput struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeType     string `json:"mime_type"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Location.Coordinates) != 2 {
		writeError(w, model.Invalid("location.coordinates", "must be a [lon, lat] pair"))
		return
	}
	draft := incidents.Draft{
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		Priority:    model.Priority(strings.ToLower(strings.TrimSpace(req.Priority))),
		Lon:         req.Location.Coordinates[0],
		Lat:         req.Location.Coordinates[1],
	}
	for _, p := range req.Photos {
		draft.Photos = append(draft.Photos, model.Photo{
			Filename:     p.Filename,
			OriginalName: p.OriginalName,
			SizeBytes:    p.SizeBytes,
			MimeType:     p.MimeType,
		})
	}
	inc, err := h.svc.Create(r.Context(), actor, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.ID, "incidents.create", inc.ID)
	writeJSON(w, http.StatusCreated, inc)
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	q := incidents.Query{
		Status:         model.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		DriverStatus:   model.DriverStatus(strings.TrimSpace(r.URL.Query().Get("driver_status"))),
		HospitalStatus: model.HospitalStatus(strings.TrimSpace(r.URL.Query().Get("hospital_status"))),
		Limit:          parseIntDefault(r.URL.Query().Get("limit"), 0),
		Offset:         parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	items, err := h.svc.List(r.Context(), actor, q)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": items, "count": len(items)})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	inc, err := h.svc.Get(r.Context(), actor, urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type approveRequest struct {
	Department string `json:"department"`
	Reason     string `json:"reason"`
}

func (h *IncidentsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := urlParam(r, "id")
	inc, err := h.svc.Approve(r.Context(), actor, id, strings.TrimSpace(req.Department), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.ID, "incidents.approve", id)
	writeJSON(w, http.StatusOK, inc)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *IncidentsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := urlParam(r, "id")
	inc, err := h.svc.Reject(r.Context(), actor, id, strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.ID, "incidents.reject", id)
	writeJSON(w, http.StatusOK, inc)
}

type assignDriverRequest struct {
	DriverID string `json:"driver_id"`
}

func (h *IncidentsHandler) AssignDriver(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req assignDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := urlParam(r, "id")
	inc, err := h.svc.AssignDriver(r.Context(), actor, id, strings.TrimSpace(req.DriverID))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.ID, "incidents.assign_driver", id)
	writeJSON(w, http.StatusOK, inc)
}

type driverStatusRequest struct {
	Status           string `json:"status"`
	Hospital         string `json:"hospital"`
	PatientCondition string `json:"patient_condition"`
}

func (h *IncidentsHandler) UpdateDriverStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req driverStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.UpdateDriverStatus(r.Context(), actor, urlParam(r, "id"), workflow.DriverUpdate{
		To:               model.DriverStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Hospital:         strings.TrimSpace(req.Hospital),
		PatientCondition: strings.TrimSpace(req.PatientCondition),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type pickupStatusRequest struct {
	PickupStatus string `json:"pickup_status"`
	Notes        string `json:"notes"`
}

func (h *IncidentsHandler) UpdatePatientPickup(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req pickupStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.UpdatePatientPickup(r.Context(), actor, urlParam(r, "id"), workflow.PickupUpdate{
		To:    model.PickupStatus(strings.ToLower(strings.TrimSpace(req.PickupStatus))),
		Notes: strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type hospitalStatusRequest struct {
	Status       string `json:"status"`
	Condition    string `json:"condition"`
	MedicalNotes string `json:"medical_notes"`
	Treatment    string `json:"treatment"`
	Doctor       string `json:"doctor"`
	BedNumber    string `json:"bed_number"`
}

func (h *IncidentsHandler) UpdateHospitalStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req hospitalStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.UpdateHospitalStatus(r.Context(), actor, urlParam(r, "id"), workflow.HospitalUpdate{
		To:           model.HospitalStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Condition:    strings.TrimSpace(req.Condition),
		MedicalNotes: strings.TrimSpace(req.MedicalNotes),
		Treatment:    strings.TrimSpace(req.Treatment),
		Doctor:       strings.TrimSpace(req.Doctor),
		BedNumber:    strings.TrimSpace(req.BedNumber),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Actions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	actions, err := h.svc.Actions(r.Context(), actor, urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []model.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

type addPhotosRequest struct {
	Photos []photoInput `json:"photos"`
}

func (h *IncidentsHandler) AddPhotos(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req addPhotosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var photos []model.Photo
	for _, p := range req.Photos {
		photos = append(photos, model.Photo{
			Filename:     p.Filename,
			OriginalName: p.OriginalName,
			SizeBytes:    p.SizeBytes,
			MimeType:     p.MimeType,
		})
	}
	inc, err := h.svc.AddPhotos(r.Context(), actor, urlParam(r, "id"), photos)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
