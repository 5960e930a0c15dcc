package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/rx-pipeline/internal/api/auth"
	"github.com/cuongbtq/rx-pipeline/internal/api/handler"
	"github.com/cuongbtq/rx-pipeline/internal/api/intake"
	"github.com/cuongbtq/rx-pipeline/internal/api/status"
	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/shared/logger"
)

const testJobID = "7b1f5a2e-2d7c-4a53-9a55-0a8f5e0e9f11"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, apiKey string) (string, error) {
	switch apiKey {
	case "":
		return "", domain.Validationf("api_key is required")
	case "key-active":
		return "token-tenant", nil
	default:
		return "", domain.ErrAuthorization
	}
}

func (fakeAuth) Authenticate(_ context.Context, token string) (*domain.Client, error) {
	switch token {
	case "token-tenant":
		return &domain.Client{ID: "client-1", Active: true}, nil
	case "token-global":
		return &domain.Client{ID: "global", Active: true, IsGlobal: true}, nil
	case "token-inactive":
		return nil, domain.ErrAuthorization
	case "token-broken":
		return nil, errors.New("db down")
	default:
		return nil, auth.ErrInvalidToken
	}
}

type fakeSubmitter struct {
	err      error
	source   intake.Source
	content  []byte
	clientID string
}

func (f *fakeSubmitter) Submit(_ context.Context, src intake.Source, client *domain.Client) (intake.Receipt, error) {
	f.source = src
	f.clientID = client.ID
	if src.File != nil {
		f.content, _ = io.ReadAll(src.File)
	}
	if f.err != nil {
		return intake.Receipt{}, f.err
	}
	return intake.Receipt{JobID: testJobID, Status: domain.JobStatusProcessing}, nil
}

type fakeReporter struct {
	report status.Report
	err    error
	labels status.Labels
	scope  string
}

func (f *fakeReporter) Report(_ context.Context, jobID, clientID string, labels status.Labels) (status.Report, error) {
	f.labels = labels
	f.scope = clientID
	if f.err != nil {
		return status.Report{}, f.err
	}
	r := f.report
	r.JobID = jobID
	return r, nil
}

type fakeHealth struct {
	err error
}

func (f fakeHealth) HealthCheck(context.Context) error {
	return f.err
}

type testServer struct {
	engine    *gin.Engine
	submitter *fakeSubmitter
	reporter  *fakeReporter
}

func newTestServer(health handler.HealthChecker) *testServer {
	ts := &testServer{submitter: &fakeSubmitter{}, reporter: &fakeReporter{}}
	ts.engine = SetupRouter(&handler.Dependencies{
		Logger:   logger.NewNop().Logger,
		Intake:   ts.submitter,
		Auth:     fakeAuth{},
		Status:   ts.reporter,
		Database: health,
	})
	return ts
}

func (ts *testServer) do(method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_Health(t *testing.T) {
	w := newTestServer(fakeHealth{}).do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = newTestServer(fakeHealth{err: errors.New("db down")}).do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_Login(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "valid key", body: `{"api_key":"key-active"}`, wantCode: http.StatusOK},
		{name: "missing key", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "rejected key", body: `{"api_key":"key-inactive"}`, wantCode: http.StatusForbidden},
		{name: "malformed body", body: `{`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestServer(nil).do(http.MethodPost, "/api/v1/auth/login", "", "application/json", strings.NewReader(tt.body))
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "token-tenant", decode(t, w)["token"])
			}
		})
	}
}

func TestRouter_AuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "no token", wantCode: http.StatusUnauthorized},
		{name: "invalid token", token: "token-garbage", wantCode: http.StatusUnauthorized},
		{name: "inactive client", token: "token-inactive", wantCode: http.StatusForbidden},
		{name: "lookup failure", token: "token-broken", wantCode: http.StatusInternalServerError},
		{name: "valid token", token: "token-tenant", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil)
			ts.reporter.report = status.Report{Status: "not found"}

			w := ts.do(http.MethodGet, "/api/v1/status/"+testJobID, tt.token, "", nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRouter_Upload_Multipart(t *testing.T) {
	ts := newTestServer(nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "receita.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 body"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := ts.do(http.MethodPost, "/api/v1/upload", "token-tenant", mw.FormDataContentType(), &buf)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, testJobID, body["job_id"])
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "receita.pdf", ts.submitter.source.Filename)
	assert.Equal(t, []byte("%PDF-1.4 body"), ts.submitter.content)
	assert.Equal(t, "client-1", ts.submitter.clientID)
}

func TestRouter_Upload_URL(t *testing.T) {
	ts := newTestServer(nil)

	w := ts.do(http.MethodPost, "/api/v1/upload", "token-tenant", "application/json",
		strings.NewReader(`{"file_url":"https://files.example.com/rx.png"}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://files.example.com/rx.png", ts.submitter.source.URL)
	assert.Nil(t, ts.submitter.source.File)
}

func TestRouter_Upload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "validation", err: domain.Validationf("file or file_url is required"), wantCode: http.StatusBadRequest},
		{name: "global identity", err: domain.ErrAuthorization, wantCode: http.StatusForbidden},
		{name: "enqueue failed", err: domain.NewRetryableError(errors.New("enqueue failed")), wantCode: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("disk full"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil)
			ts.submitter.err = tt.err

			w := ts.do(http.MethodPost, "/api/v1/upload", "token-tenant", "application/json", strings.NewReader(`{}`))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestRouter_StatusAndEstimate(t *testing.T) {
	complete := status.Report{
		Status:   "success",
		Patient:  nil,
		Complete: true,
		Medications: map[string]status.Medication{
			"Formula 1": {RawMaterials: []status.RawMaterial{{Active: "Ureia"}}, Form: "Creme"},
		},
	}

	t.Run("incomplete report has only job id and status", func(t *testing.T) {
		ts := newTestServer(nil)
		ts.reporter.report = status.Report{Status: "in processing"}

		w := ts.do(http.MethodGet, "/api/v1/status/"+testJobID, "token-tenant", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"job_id": testJobID, "status": "in processing"}, decode(t, w))
		assert.Equal(t, status.English, ts.reporter.labels)
		assert.Equal(t, "client-1", ts.reporter.scope)
	})

	t.Run("complete report carries medications", func(t *testing.T) {
		ts := newTestServer(nil)
		ts.reporter.report = complete

		w := ts.do(http.MethodGet, "/api/v1/status/"+testJobID, "token-tenant", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Contains(t, body, "medications")
		assert.Contains(t, body, "patient")
		assert.Nil(t, body["patient"])
	})

	t.Run("estimate uses portuguese labels", func(t *testing.T) {
		ts := newTestServer(nil)
		ts.reporter.report = status.Report{Status: "não encontrado"}

		w := ts.do(http.MethodGet, "/api/v1/estimate/"+testJobID, "token-tenant", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, status.Portuguese, ts.reporter.labels)
	})

	t.Run("estimate refuses global identity", func(t *testing.T) {
		ts := newTestServer(nil)
		w := ts.do(http.MethodGet, "/api/v1/estimate/"+testJobID, "token-global", "", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("status allows global identity", func(t *testing.T) {
		ts := newTestServer(nil)
		ts.reporter.report = status.Report{Status: "not found"}
		w := ts.do(http.MethodGet, "/api/v1/status/"+testJobID, "token-global", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, ts.reporter.scope)
	})

	t.Run("store failure is a server error", func(t *testing.T) {
		ts := newTestServer(nil)
		ts.reporter.err = errors.New("db down")
		w := ts.do(http.MethodGet, "/api/v1/status/"+testJobID, "token-tenant", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
