// Package clinicdata exports snapshots of patient spreadsheets to S3.
package clinicdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/patient-sheets/internal/compliance"
	"github.com/wolfman30/patient-sheets/internal/patients"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// ErrExportDisabled is returned when no export bucket is configured.
var ErrExportDisabled = errors.New("clinicdata: export bucket not configured")

// snapshotRange covers the header and every patient row.
const snapshotRange = patients.SheetTitle + "!A1:O"

// S3Client interface for S3 operations (allows mocking in tests)
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RangeReader reads the selected spreadsheet.
type RangeReader interface {
	ReadRange(ctx context.Context, rng string) ([][]string, error)
}

// Selection returns the selected container id.
type Selection interface {
	Get(ctx context.Context) (string, error)
}

// Exporter writes CSV snapshots of the selected container to S3.
type Exporter struct {
	s3        S3Client
	bucket    string
	sheet     RangeReader
	selection Selection
	auditor   compliance.Auditor
	logger    *logging.Logger
	now       func() time.Time
}

// ExporterConfig holds configuration for the Exporter.
type ExporterConfig struct {
	S3        S3Client
	Bucket    string
	Sheet     RangeReader
	Selection Selection
	Auditor   compliance.Auditor
	Logger    *logging.Logger
}

// NewExporter creates a new Exporter instance.
func NewExporter(cfg ExporterConfig) *Exporter {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Auditor == nil {
		cfg.Auditor = compliance.NopAuditor{}
	}
	return &Exporter{
		s3:        cfg.S3,
		bucket:    cfg.Bucket,
		sheet:     cfg.Sheet,
		selection: cfg.Selection,
		auditor:   cfg.Auditor,
		logger:    cfg.Logger.Component("export"),
		now:       time.Now,
	}
}

// Enabled reports whether exports are configured.
func (e *Exporter) Enabled() bool {
	return e != nil && e.bucket != "" && e.s3 != nil
}

// Snapshot describes one exported object.
type Snapshot struct {
	ContainerID string    `json:"container_id"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Rows        int       `json:"rows"`
	ExportedAt  time.Time `json:"exported_at"`
}

// Export reads the selected container and writes it as CSV to
// exports/{containerID}/{timestamp}.csv, then appends to that container's
// manifest.
func (e *Exporter) Export(ctx context.Context) (*Snapshot, error) {
	if !e.Enabled() {
		return nil, ErrExportDisabled
	}
	containerID, err := e.selection.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("clinicdata: read selection: %w", err)
	}
	if containerID == "" {
		return nil, sheets.ErrNoContainerSelected
	}

	rows, err := e.sheet.ReadRange(ctx, snapshotRange)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("clinicdata: encode csv: %w", err)
	}

	now := e.now().UTC()
	snap := &Snapshot{
		ContainerID: containerID,
		Bucket:      e.bucket,
		Key:         fmt.Sprintf("exports/%s/%s.csv", containerID, now.Format("20060102T150405Z")),
		Rows:        dataRows(rows),
		ExportedAt:  now,
	}

	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(e.bucket),
		Key:                  aws.String(snap.Key),
		Body:                 bytes.NewReader(buf.Bytes()),
		ContentType:          aws.String("text/csv"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("clinicdata: s3 put %s: %w", snap.Key, err)
	}

	e.logger.Info("exported spreadsheet snapshot", "container_id", containerID, "s3_key", snap.Key, "rows", snap.Rows)

	if err := e.appendManifest(ctx, snap); err != nil {
		// the snapshot itself is stored
		e.logger.Warn("failed to append export manifest", "container_id", containerID, "error", err)
	}

	event := compliance.NewAccessEvent(compliance.EventContainerExported, containerID, "", compliance.AuditDetails{
		ObjectKey: snap.Key,
		Rows:      snap.Rows,
	})
	if err := e.auditor.LogEvent(ctx, event); err != nil {
		e.logger.Error("failed to record audit event", "event_type", event.EventType, "error", err)
	}
	return snap, nil
}

// appendManifest appends a JSONL line to exports/{containerID}/manifest.jsonl.
// Uses read-modify-write since S3 doesn't support append.
func (e *Exporter) appendManifest(ctx context.Context, snap *Snapshot) error {
	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("clinicdata: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("exports/%s/manifest.jsonl", snap.ContainerID)

	var existing []byte
	resp, err := e.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("clinicdata: read manifest: %w", err)
		}
	case isNoSuchKey(err):
		e.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("clinicdata: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("clinicdata: s3 put manifest: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

func dataRows(rows [][]string) int {
	if len(rows) == 0 {
		return 0
	}
	return len(rows) - 1
}
