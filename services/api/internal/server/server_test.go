package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"aluastro/internal/csrftoken"
	"aluastro/internal/ratelimit"
	"aluastro/pkg/domain"
	"aluastro/pkg/schema"
	"aluastro/pkg/storage"
	"aluastro/pkg/store"
	"aluastro/services/api/internal/app"
	"aluastro/services/api/internal/intake"
)

type testEnv struct {
	handler http.Handler
	docs    *store.MemoryStore
	objects *storage.MemoryStore
}

type envOption func(*Config)

func newTestEnv(t *testing.T, opts ...envOption) testEnv {
	t.Helper()
	docs := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	return newTestEnvWithStore(t, docs, docs, objects, opts...)
}

func newTestEnvWithStore(t *testing.T, st store.Store, docs *store.MemoryStore, objects *storage.MemoryStore, opts ...envOption) testEnv {
	t.Helper()
	core, err := app.New(app.Config{Store: st, Objects: objects})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(100, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	cfg := Config{
		App:          core,
		ApplyLimiter: limiter,
		CORSOrigins:  []string{"http://localhost:3000"},
		Intake:       intake.NewPolicy(0, nil),
		Now:          func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return testEnv{handler: srv.Router(), docs: docs, objects: objects}
}

func (e testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

var scenarioFields = map[string]string{
	"fullName": "Ada Lovelace",
	"email":    "ada@alu.edu",
	"reason":   "I love the stars and want to learn more.",
	"consent":  "true",
}

func jsonApply(t *testing.T, body map[string]any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/apply", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	return req
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartApply(t *testing.T, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := w.Write(f.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/apply", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "203.0.113.7:5555"
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorResponse {
	t.Helper()
	var resp domain.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func pdfBytes(n int) []byte {
	data := bytes.Repeat([]byte("a"), n)
	copy(data, "%PDF-1.4")
	return data
}

func TestApplyWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonApply(t, map[string]any{
		"fullName": "Ada Lovelace",
		"email":    "ada@alu.edu",
		"reason":   "I love the stars and want to learn more.",
		"consent":  true,
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.ApplyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.Message != app.SubmittedMessage {
		t.Fatalf("unexpected response %+v", resp)
	}
	apps := env.docs.ListApplications()
	if len(apps) != 1 {
		t.Fatalf("expected one record, got %d", len(apps))
	}
	if apps[0].ID != resp.ID || apps[0].CVPath != nil {
		t.Fatalf("unexpected record %+v", apps[0])
	}
}

func TestApplyConsentRefused(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonApply(t, map[string]any{
		"fullName": "Ada Lovelace",
		"email":    "ada@alu.edu",
		"reason":   "I love the stars and want to learn more.",
		"consent":  "false",
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != CodeValidation {
		t.Fatalf("expected validation code, got %q", resp.Code)
	}
	fields, ok := resp.Details["fields"].([]any)
	if !ok || len(fields) != 1 {
		t.Fatalf("expected one field error, got %#v", resp.Details)
	}
	first := fields[0].(map[string]any)
	if first["field"] != schema.FieldConsent || first["reason"] != schema.ReasonConsentRequired {
		t.Fatalf("unexpected field error %#v", first)
	}
	if len(env.docs.ListApplications()) != 0 {
		t.Fatalf("expected no records")
	}
}

func TestApplyRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)
	req := multipartApply(t, scenarioFields, filePart{
		field: "cv", filename: "big.pdf", contentType: "application/pdf", data: pdfBytes(6 << 20),
	})
	rec := env.do(req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != CodeFileTooLarge {
		t.Fatalf("expected FILE_TOO_LARGE, got %q", resp.Code)
	}
	if len(env.docs.ListApplications()) != 0 || env.objects.Len() != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestApplyStoresValidFile(t *testing.T) {
	env := newTestEnv(t)
	data := pdfBytes(1 << 20)
	req := multipartApply(t, scenarioFields, filePart{
		field: "cv", filename: "Ada CV (2024).pdf", contentType: "application/pdf", data: data,
	})
	rec := env.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	apps := env.docs.ListApplications()
	if len(apps) != 1 || apps[0].CVPath == nil {
		t.Fatalf("expected one record with cvPath, got %+v", apps)
	}
	key := *apps[0].CVPath
	if !strings.HasPrefix(key, "cv/") || !strings.HasSuffix(key, "-AdaCV2024.pdf") {
		t.Fatalf("unexpected sanitized key %q", key)
	}
	obj, ok := env.objects.Get(key)
	if !ok {
		t.Fatalf("expected object at %q", key)
	}
	if !bytes.Equal(obj.Data, data) {
		t.Fatalf("stored bytes differ from upload")
	}
}

func TestApplyRejectsUnsupportedFileType(t *testing.T) {
	env := newTestEnv(t)
	req := multipartApply(t, scenarioFields, filePart{
		field: "cv", filename: "photo.png", contentType: "image/png", data: []byte("png"),
	})
	rec := env.do(req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeUnsupportedFileType {
		t.Fatalf("expected UNSUPPORTED_FILE_TYPE, got %q", resp.Code)
	}
	if env.objects.Len() != 0 {
		t.Fatalf("expected no object writes")
	}
}

func TestApplyRejectsUnexpectedFileField(t *testing.T) {
	env := newTestEnv(t)
	req := multipartApply(t, scenarioFields, filePart{
		field: "resume", filename: "cv.pdf", contentType: "application/pdf", data: []byte("%PDF"),
	})
	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %q", resp.Code)
	}
}

func TestApplyMultipartWithoutFileAndEmptyCVPart(t *testing.T) {
	env := newTestEnv(t)
	fields := map[string]string{"cv": ""}
	for k, v := range scenarioFields {
		fields[k] = v
	}
	rec := env.do(multipartApply(t, fields))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.objects.Len() != 0 {
		t.Fatalf("expected no objects")
	}
}

func TestApplyURLEncoded(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{}
	for k, v := range scenarioFields {
		form.Set(k, v)
	}
	form.Set("consent", "on")
	form.Set("phone", "  +250 788 000 000 ")
	req := httptest.NewRequest(http.MethodPost, "/apply", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	apps := env.docs.ListApplications()
	if len(apps) != 1 || apps[0].Phone == nil || *apps[0].Phone != "+250 788 000 000" {
		t.Fatalf("unexpected record %+v", apps)
	}
}

func TestApplyInvalidBodies(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"malformed json", "application/json", "{"},
		{"json array", "application/json", "[1,2]"},
		{"json null", "application/json", "null"},
		{"plain text", "text/plain", "hello"},
		{"no content type", "", "hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/apply", strings.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			rec := env.do(req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Code != CodeInvalidRequest {
				t.Fatalf("expected INVALID_REQUEST, got %q", resp.Code)
			}
		})
	}
}

func TestApplyRequestTooLarge(t *testing.T) {
	env := newTestEnv(t)
	huge := strings.Repeat("x", 7<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/apply", strings.NewReader(`{"reason":"`+huge+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeRequestTooLarge {
		t.Fatalf("expected REQUEST_TOO_LARGE, got %q", resp.Code)
	}
}

type brokenStore struct{}

func (brokenStore) AddApplication(context.Context, domain.Application) (domain.Application, error) {
	return domain.Application{}, errors.New("pq: password authentication failed")
}

func (brokenStore) GetApplication(context.Context, string) (domain.Application, bool, error) {
	return domain.Application{}, false, nil
}

func TestApplyStoreFailureIsGeneric(t *testing.T) {
	objects := storage.NewMemoryStore()
	env := newTestEnvWithStore(t, brokenStore{}, store.NewMemoryStore(), objects)
	req := multipartApply(t, scenarioFields, filePart{
		field: "cv", filename: "cv.pdf", contentType: "application/pdf", data: pdfBytes(1024),
	})
	rec := env.do(req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != CodeServerError {
		t.Fatalf("expected SERVER_ERROR, got %q", resp.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("store error leaked to client: %s", rec.Body.String())
	}
	if resp.RequestID == "" {
		t.Fatalf("expected request id in error envelope")
	}
	if objects.Len() != 0 {
		t.Fatalf("expected uploaded object to be cleaned up")
	}
}

func TestApplyMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/apply", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeMethodNotAllowed {
		t.Fatalf("unexpected code %q", resp.Code)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != CodeNotFound || resp.Message != "Endpoint not found." {
		t.Fatalf("unexpected 404 body %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/healthz"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["status"] != "ok" || body["timestamp"] != "2024-05-01T12:00:00Z" {
			t.Fatalf("%s: unexpected body %v", path, body)
		}
	}
}

func TestListings(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		path     string
		page     int
		pageSize int
	}{
		{"/api/projects", 1, 12},
		{"/api/inspiration", 1, 24},
		{"/api/projects?page=2&pageSize=6", 2, 6},
		{"/api/inspiration?page=-1&pageSize=abc", 1, 24},
		{"/api/projects?pageSize=1000", 1, 100},
	}
	for _, tc := range cases {
		rec := env.do(httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.path, rec.Code)
		}
		var page struct {
			Items    []json.RawMessage `json:"items"`
			Page     int               `json:"page"`
			PageSize int               `json:"pageSize"`
			Total    int               `json:"total"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if page.Items == nil || len(page.Items) != 0 || page.Total != 0 {
			t.Fatalf("%s: expected empty items, got %s", tc.path, rec.Body.String())
		}
		if page.Page != tc.page || page.PageSize != tc.pageSize {
			t.Fatalf("%s: expected page %d/%d, got %d/%d", tc.path, tc.page, tc.pageSize, page.Page, page.PageSize)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/apply", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("expected allowed origin echo")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}
}

func TestCSRFDisabledByDefault(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when csrf is disabled, got %d", rec.Code)
	}
}

func TestCSRFProtectedApply(t *testing.T) {
	manager, err := csrftoken.NewManager(csrftoken.Options{Secret: "0123456789abcdef-test-secret"})
	if err != nil {
		t.Fatalf("new csrf manager: %v", err)
	}
	env := newTestEnv(t, func(cfg *Config) { cfg.CSRF = manager })

	body := map[string]any{
		"fullName": "Ada Lovelace",
		"email":    "ada@alu.edu",
		"reason":   "I love the stars and want to learn more.",
		"consent":  true,
	}
	rec := env.do(jsonApply(t, body))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeCSRFInvalid {
		t.Fatalf("expected CSRF_INVALID, got %q", resp.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /api/csrf, got %d", rec.Code)
	}
	var issued map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if issued["csrfToken"] == "" || issued["expiresAt"] == "" {
		t.Fatalf("unexpected csrf response %v", issued)
	}

	body["csrfToken"] = issued["csrfToken"]
	rec = env.do(jsonApply(t, body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with body token, got %d: %s", rec.Code, rec.Body.String())
	}

	delete(body, "csrfToken")
	req := jsonApply(t, body)
	req.Header.Set(csrftoken.HeaderName, issued["csrfToken"])
	if rec = env.do(req); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with header token, got %d", rec.Code)
	}
}

func TestResponsesCarrySecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff header")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}
