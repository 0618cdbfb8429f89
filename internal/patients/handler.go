package patients

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/patient-sheets/internal/http/respond"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// Handler provides HTTP endpoints for patient records.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a new patient HTTP handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes returns a chi router with the patient routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{patientID}", h.Get)
	r.Put("/{patientID}", h.Update)
	r.Delete("/{patientID}", h.Delete)
	return r
}

type listResponse struct {
	Patients []Record `json:"patients"`
	Count    int      `json:"count"`
}

// List returns all patients, or those matching ?q=.
// GET /api/patients
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		records []Record
		err     error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		records, err = h.service.Search(r.Context(), q)
	} else {
		records, err = h.service.List(r.Context())
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, listResponse{Patients: records, Count: len(records)})
}

// Get returns one patient.
// GET /api/patients/{patientID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

// Create appends a patient.
// POST /api/patients
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respond.Message(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	saved, err := h.service.Add(r.Context(), rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, saved)
}

// Update overwrites a patient row.
// PUT /api/patients/{patientID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respond.Message(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "patientID")
	if rec.PatientID == "" {
		rec.PatientID = id
	}
	saved, err := h.service.Update(r.Context(), id, rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, saved)
}

// Delete removes a patient row.
// DELETE /api/patients/{patientID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "patientID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validationResponse struct {
	Error    string         `json:"error"`
	Code     string         `json:"code"`
	Problems []FieldProblem `json:"problems"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respond.JSON(w, http.StatusBadRequest, validationResponse{Error: "invalid patient record", Code: "validation", Problems: verr.Problems})
	case errors.Is(err, ErrDuplicatePatient):
		respond.Message(w, http.StatusConflict, "duplicate", err.Error())
	default:
		respond.Error(w, h.logger, err)
	}
}
