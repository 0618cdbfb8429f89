package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/patient-sheets/internal/compliance"
	"github.com/wolfman30/patient-sheets/internal/http/respond"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// ContainerHandler lists, creates and selects patient spreadsheets.
type ContainerHandler struct {
	session *sheets.Session
	auditor compliance.Auditor
	logger  *logging.Logger
}

// NewContainerHandler creates a container handler. auditor may be nil.
func NewContainerHandler(session *sheets.Session, auditor compliance.Auditor, logger *logging.Logger) *ContainerHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if auditor == nil {
		auditor = compliance.NopAuditor{}
	}
	return &ContainerHandler{session: session, auditor: auditor, logger: logger}
}

// Routes returns the /api/containers routes.
func (h *ContainerHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	return r
}

// SelectionRoutes returns the /api/selection routes.
func (h *ContainerHandler) SelectionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetSelection)
	r.Put("/", h.Select)
	r.Delete("/", h.ClearSelection)
	return r
}

type containerList struct {
	Containers []sheets.Container `json:"containers"`
	SelectedID string             `json:"selected_id,omitempty"`
}

// List returns spreadsheets visible to the signed-in user.
// GET /api/containers
func (h *ContainerHandler) List(w http.ResponseWriter, r *http.Request) {
	containers, err := h.session.ListContainers(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	selected, err := h.session.Selector().Get(r.Context())
	if err != nil {
		h.logger.Warn("failed to read selection", "error", err)
	}
	respond.JSON(w, http.StatusOK, containerList{Containers: containers, SelectedID: selected})
}

type createContainerRequest struct {
	Name string `json:"name"`
}

// Create makes a new patient spreadsheet and selects it.
// POST /api/containers
func (h *ContainerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respond.Message(w, http.StatusBadRequest, "validation", "name is required")
		return
	}

	created, err := h.session.CreateContainer(r.Context(), req.Name)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.audit(r, compliance.EventContainerCreated, created)

	if err := h.session.Selector().Set(r.Context(), created.ID); err != nil {
		h.logger.Error("failed to select new spreadsheet", "spreadsheet_id", created.ID, "error", err)
		respond.Message(w, http.StatusInternalServerError, "selection", "spreadsheet created but could not be selected")
		return
	}
	h.audit(r, compliance.EventContainerSelected, created)
	respond.JSON(w, http.StatusCreated, created)
}

type selectionBody struct {
	ContainerID string `json:"container_id"`
}

// GetSelection returns the selected container id.
// GET /api/selection
func (h *ContainerHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	id, err := h.session.Selector().Get(r.Context())
	if err != nil {
		h.logger.Error("failed to read selection", "error", err)
		respond.Message(w, http.StatusInternalServerError, "selection", "failed to read selection")
		return
	}
	respond.JSON(w, http.StatusOK, selectionBody{ContainerID: id})
}

// Select makes container_id the active container.
// PUT /api/selection
func (h *ContainerHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	req.ContainerID = strings.TrimSpace(req.ContainerID)
	if req.ContainerID == "" {
		respond.Message(w, http.StatusBadRequest, "validation", "container_id is required")
		return
	}
	if err := h.session.Selector().Set(r.Context(), req.ContainerID); err != nil {
		h.logger.Error("failed to persist selection", "error", err)
		respond.Message(w, http.StatusInternalServerError, "selection", "failed to persist selection")
		return
	}
	h.audit(r, compliance.EventContainerSelected, &sheets.Container{ID: req.ContainerID})
	respond.JSON(w, http.StatusOK, req)
}

// ClearSelection forgets the selected container.
// DELETE /api/selection
func (h *ContainerHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Selector().Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear selection", "error", err)
		respond.Message(w, http.StatusInternalServerError, "selection", "failed to clear selection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContainerHandler) audit(r *http.Request, eventType compliance.AuditEventType, c *sheets.Container) {
	event := compliance.NewAccessEvent(eventType, c.ID, "", compliance.AuditDetails{ContainerName: c.Name})
	if err := h.auditor.LogEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to record audit event", "event_type", eventType, "error", err)
	}
}
