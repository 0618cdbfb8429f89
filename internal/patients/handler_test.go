package patients_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/patient-sheets/internal/patients"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCRUD(t *testing.T) {
	f := newFixture(t)
	h := patients.NewHandler(f.service, nil).Routes()

	rec := doJSON(t, h, http.MethodPost, "/", patient("P1", "Ann"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/", patient("P1", "Ann"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	bad := patient("P2", "Bob")
	bad.Age = "abc"
	rec = doJSON(t, h, http.MethodPost, "/", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var verr struct {
		Problems []patients.FieldProblem `json:"problems"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&verr))
	require.Len(t, verr.Problems, 1)
	assert.Equal(t, "age", verr.Problems[0].Field)

	rec = doJSON(t, h, http.MethodGet, "/P1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got patients.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "Ann", got.Name)

	update := patient("", "Ann B")
	rec = doJSON(t, h, http.MethodPut, "/P1", update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/?q=ann%20b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Patients []patients.Record `json:"patients"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)

	rec = doJSON(t, h, http.MethodDelete, "/P1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/P1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerInvalidJSON(t *testing.T) {
	f := newFixture(t)
	h := patients.NewHandler(f.service, nil).Routes()

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
