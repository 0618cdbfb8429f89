package handlers

import (
	"errors"
	"net/http"

	"github.com/wolfman30/patient-sheets/internal/clinicdata"
	"github.com/wolfman30/patient-sheets/internal/http/respond"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// ExportHandler triggers spreadsheet snapshot exports.
type ExportHandler struct {
	exporter *clinicdata.Exporter
	logger   *logging.Logger
}

// NewExportHandler creates an export handler.
func NewExportHandler(exporter *clinicdata.Exporter, logger *logging.Logger) *ExportHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ExportHandler{exporter: exporter, logger: logger}
}

// Create exports the selected container.
// POST /api/exports
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	snap, err := h.exporter.Export(r.Context())
	if errors.Is(err, clinicdata.ErrExportDisabled) {
		respond.Message(w, http.StatusNotImplemented, "export_disabled", "exports are not configured")
		return
	}
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, snap)
}
