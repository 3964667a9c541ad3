package medicalhistory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms-platform/hms/contracts"
)

func newTestHandler(t *testing.T) (*Handler, *memRepo, *echo.Echo) {
	repo := newMemRepo()
	e := echo.New()
	h := NewHandler(newTestService(t, repo))
	h.RegisterRoutes(e.Group("/api"))
	return h, repo, e
}

func TestHandler(t *testing.T) {
	t.Run("get by patient", func(t *testing.T) {
		_, repo, e := newTestHandler(t)
		patientID := uuid.New()
		_, err := repo.Create(context.Background(), &contracts.MedicalHistory{PatientID: patientID, PatientDocument: "123"})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/medical-histories/patient/"+patientID.String(), nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var got contracts.MedicalHistory
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, patientID, got.PatientID)
	})

	t.Run("unknown patient is 404", func(t *testing.T) {
		_, _, e := newTestHandler(t)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/medical-histories/patient/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		_, _, e := newTestHandler(t)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/medical-histories/patient/abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get by document", func(t *testing.T) {
		_, repo, e := newTestHandler(t)
		_, err := repo.Create(context.Background(), &contracts.MedicalHistory{PatientID: uuid.New(), PatientDocument: "98765432100"})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/medical-histories/document/98765432100", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("create then conflict", func(t *testing.T) {
		_, _, e := newTestHandler(t)
		body := `{"PatientId":"` + uuid.NewString() + `","PatientDocument":"123","Diagnoses":[{"Description":"flu"}]}`

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/medical-histories", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodPost, "/api/medical-histories", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
