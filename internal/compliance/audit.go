// Package compliance records access to protected health information.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the type of PHI access event.
type AuditEventType string

const (
	// EventPatientViewed is logged when a single patient record is read.
	EventPatientViewed AuditEventType = "patient.viewed"
	// EventPatientListed is logged when patient records are listed or searched.
	EventPatientListed AuditEventType = "patient.listed"
	// EventPatientCreated is logged when a patient row is appended.
	EventPatientCreated AuditEventType = "patient.created"
	// EventPatientUpdated is logged when a patient row is overwritten.
	EventPatientUpdated AuditEventType = "patient.updated"
	// EventPatientDeleted is logged when a patient row is removed.
	EventPatientDeleted AuditEventType = "patient.deleted"
	// EventContainerSelected is logged when the active spreadsheet changes.
	EventContainerSelected AuditEventType = "container.selected"
	// EventContainerCreated is logged when a patient spreadsheet is created.
	EventContainerCreated AuditEventType = "container.created"
	// EventContainerExported is logged when a spreadsheet snapshot is exported.
	EventContainerExported AuditEventType = "container.exported"
)

// AuditEvent represents an immutable PHI access record.
type AuditEvent struct {
	ID          string          `json:"id"`
	EventType   AuditEventType  `json:"event_type"`
	ContainerID string          `json:"container_id"`
	PatientID   string          `json:"patient_id,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details. Never put record contents here.
type AuditDetails struct {
	// For list/search
	ResultCount int  `json:"result_count,omitempty"`
	Search      bool `json:"search,omitempty"`

	// For container events
	ContainerName string `json:"container_name,omitempty"`

	// For exports
	ObjectKey string `json:"object_key,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// Auditor is the write side of the audit trail.
type Auditor interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}

// AuditService handles PHI access audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event. The actor defaults to the one carried by ctx.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = ActorFromContext(ctx)
	}

	query := `
		INSERT INTO phi_access_events (
			id, event_type, container_id, patient_id, actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.ContainerID,
		nullString(event.PatientID),
		nullString(event.Actor),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// NewAccessEvent builds an event with details encoded. Empty details are omitted.
func NewAccessEvent(eventType AuditEventType, containerID, patientID string, details AuditDetails) AuditEvent {
	event := AuditEvent{
		EventType:   eventType,
		ContainerID: containerID,
		PatientID:   patientID,
	}
	if details != (AuditDetails{}) {
		event.Details, _ = json.Marshal(details)
	}
	return event
}

// LogAccess records eventType with the given details.
func (s *AuditService) LogAccess(ctx context.Context, eventType AuditEventType, containerID, patientID string, details AuditDetails) error {
	return s.LogEvent(ctx, NewAccessEvent(eventType, containerID, patientID, details))
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, container_id, patient_id, actor, details, created_at
		FROM phi_access_events
		WHERE container_id = $1
	`
	args := []interface{}{filter.ContainerID}
	argIdx := 2

	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var patientID, actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.ContainerID, &patientID, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.PatientID = patientID.String
		e.Actor = actor.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	ContainerID string
	PatientID   string
	EventTypes  []AuditEventType
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
	Offset      int
}

type actorKey struct{}

// WithActor returns a context carrying the authenticated staff member.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// NopAuditor discards events. Used when no audit database is configured.
type NopAuditor struct{}

func (NopAuditor) LogEvent(context.Context, AuditEvent) error { return nil }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
