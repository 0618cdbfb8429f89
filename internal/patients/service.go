package patients

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/patient-sheets/internal/compliance"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

var tracer = otel.Tracer("patientsheets.internal.patients")

// Sheet is the subset of the spreadsheet session the service needs.
type Sheet interface {
	ReadRange(ctx context.Context, rng string) ([][]string, error)
	AppendRows(ctx context.Context, rng string, rows [][]string) (*sheets.UpdateResult, error)
	UpdateRow(ctx context.Context, sheetName string, rowIndex int, values []string) error
	DeleteRow(ctx context.Context, sheetName string, rowIndex int) error
}

// Selection reports the active container for audit records.
type Selection interface {
	Get(ctx context.Context) (string, error)
}

// Service implements patient CRUD on top of the selected spreadsheet.
// Row positions are found by scanning the ID column on every call, so
// concurrent edits by other users can shift rows between scan and write.
type Service struct {
	sheet     Sheet
	selection Selection
	auditor   compliance.Auditor
	logger    *logging.Logger
}

// NewService creates a patient service. auditor may be nil.
func NewService(sheet Sheet, selection Selection, auditor compliance.Auditor, logger *logging.Logger) *Service {
	if auditor == nil {
		auditor = compliance.NopAuditor{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sheet:     sheet,
		selection: selection,
		auditor:   auditor,
		logger:    logger.Component("patients"),
	}
}

// List returns every patient row in sheet order.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "patients.list")
	defer span.End()

	records, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.audit(ctx, compliance.EventPatientListed, "", compliance.AuditDetails{ResultCount: len(records)})
	return records, nil
}

// Search returns the patients matching term. An empty term matches all.
func (s *Service) Search(ctx context.Context, term string) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "patients.search")
	defer span.End()

	records, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Matches(term) {
			out = append(out, r)
		}
	}
	s.audit(ctx, compliance.EventPatientListed, "", compliance.AuditDetails{ResultCount: len(out), Search: true})
	return out, nil
}

// Get returns the first record with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "patients.get")
	defer span.End()

	records, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, r := range records {
		if r.PatientID == id {
			rec := r
			s.audit(ctx, compliance.EventPatientViewed, id, compliance.AuditDetails{})
			return &rec, nil
		}
	}
	return nil, &sheets.NotFoundError{Kind: "patient", Name: id}
}

// Add validates rec and appends it after the last patient row.
func (s *Service) Add(ctx context.Context, rec Record) (*Record, error) {
	ctx, span := tracer.Start(ctx, "patients.add")
	defer span.End()

	rec = rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	idx, err := s.rowOf(ctx, rec.PatientID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if idx >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePatient, rec.PatientID)
	}

	if _, err := s.sheet.AppendRows(ctx, appendRange, [][]string{rec.Row()}); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("patient added")
	s.audit(ctx, compliance.EventPatientCreated, rec.PatientID, compliance.AuditDetails{})
	return &rec, nil
}

// Update overwrites the row of patient id with rec. rec may carry a new ID
// as long as no other row uses it.
func (s *Service) Update(ctx context.Context, id string, rec Record) (*Record, error) {
	ctx, span := tracer.Start(ctx, "patients.update")
	defer span.End()

	rec = rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	ids, err := s.ids(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	idx := indexOf(ids, id)
	if idx < 0 {
		return nil, &sheets.NotFoundError{Kind: "patient", Name: id}
	}
	if rec.PatientID != id && indexOf(ids, rec.PatientID) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePatient, rec.PatientID)
	}

	row := idx + firstRow
	span.SetAttributes(attribute.Int("patients.row", row))
	if err := s.sheet.UpdateRow(ctx, SheetTitle, row, rec.Row()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("patient updated", "row", row)
	s.audit(ctx, compliance.EventPatientUpdated, rec.PatientID, compliance.AuditDetails{})
	return &rec, nil
}

// Delete removes the row of patient id.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "patients.delete")
	defer span.End()

	idx, err := s.rowOf(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if idx < 0 {
		return &sheets.NotFoundError{Kind: "patient", Name: id}
	}

	row := idx + firstRow
	span.SetAttributes(attribute.Int("patients.row", row))
	if err := s.sheet.DeleteRow(ctx, SheetTitle, row); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("patient deleted", "row", row)
	s.audit(ctx, compliance.EventPatientDeleted, id, compliance.AuditDetails{})
	return nil
}

func (s *Service) load(ctx context.Context) ([]Record, error) {
	rows, err := s.sheet.ReadRange(ctx, dataRange)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, FromRow(row))
	}
	return records, nil
}

func (s *Service) ids(ctx context.Context) ([]string, error) {
	rows, err := s.sheet.ReadRange(ctx, idRange)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		if len(row) > 0 {
			ids[i] = row[0]
		}
	}
	return ids, nil
}

// rowOf returns the 0-based data index of id, or -1.
func (s *Service) rowOf(ctx context.Context, id string) (int, error) {
	ids, err := s.ids(ctx)
	if err != nil {
		return -1, err
	}
	return indexOf(ids, id), nil
}

func indexOf(ids []string, id string) int {
	if strings.TrimSpace(id) == "" {
		return -1
	}
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *Service) audit(ctx context.Context, eventType compliance.AuditEventType, patientID string, details compliance.AuditDetails) {
	containerID := ""
	if s.selection != nil {
		if id, err := s.selection.Get(ctx); err == nil {
			containerID = id
		}
	}
	event := compliance.NewAccessEvent(eventType, containerID, patientID, details)
	if err := s.auditor.LogEvent(ctx, event); err != nil {
		s.logger.Error("failed to record audit event", "event_type", eventType, "error", err)
	}
}
