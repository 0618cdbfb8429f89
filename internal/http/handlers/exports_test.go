package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/patient-sheets/internal/clinicdata"
	"github.com/wolfman30/patient-sheets/internal/selection"
)

type memS3 struct {
	objects map[string][]byte
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type fixedRows [][]string

func (f fixedRows) ReadRange(context.Context, string) ([][]string, error) { return f, nil }

func TestExportDisabled(t *testing.T) {
	h := NewExportHandler(clinicdata.NewExporter(clinicdata.ExporterConfig{}), nil)

	rec := serve(http.HandlerFunc(h.Create), http.MethodPost, "/api/exports", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestExportSelectedContainer(t *testing.T) {
	sel := selection.NewSelector(selection.NewMemoryStore())
	store := &memS3{objects: map[string][]byte{}}
	exporter := clinicdata.NewExporter(clinicdata.ExporterConfig{
		S3:        store,
		Bucket:    "exports-bucket",
		Sheet:     fixedRows{{"Patient ID"}, {"P1"}, {"P2"}},
		Selection: sel,
	})
	h := http.HandlerFunc(NewExportHandler(exporter, nil).Create)

	rec := serve(h, http.MethodPost, "/api/exports", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("without selection: expected 409, got %d", rec.Code)
	}

	if err := sel.Set(context.Background(), "S1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	rec = serve(h, http.MethodPost, "/api/exports", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	snap := decode[clinicdata.Snapshot](t, rec)
	if snap.ContainerID != "S1" || snap.Rows != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, ok := store.objects[snap.Key]; !ok {
		t.Fatalf("snapshot %s not written", snap.Key)
	}
}
