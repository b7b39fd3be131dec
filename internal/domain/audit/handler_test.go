package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/auditledger/auditledger/internal/ledger"
	"github.com/auditledger/auditledger/internal/platform/auth"
)

func newTestServer(t *testing.T, repo RecordRepository, roles []string) (*echo.Echo, *Service) {
	t.Helper()
	dir := t.TempDir()
	appender, err := ledger.NewAppender(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("new appender: %v", err)
	}
	svc := NewService(appender, ledger.NewVerifier(dir), ledger.NewStatsReader(dir, time.Second), repo, nil, zerolog.Nop())

	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), "test-user", roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

// squatStream occupies the channel's stream path with a directory so that
// appends to it fail.
func squatStream(svc *Service, channel string) error {
	return os.Mkdir(svc.appender.StreamPath(channel), 0o750)
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAppendEventEndpoint(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleWriter})

	body := `{"operation":"CREATE","actor":{"id":"u-1","role":"physician"},"subject":{"type":"Patient","id":"p-1"},"details":{"patient_name":"Jane Doe"},"result":{"success":true}}`
	rec := doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var result ledger.AppendResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Written || result.Hash == "" {
		t.Errorf("expected written result with hash, got %+v", result)
	}
}

func TestAppendEventRequiresOperation(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleWriter})

	rec := doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"details":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAppendEventReturnsAcceptedOnWriteFailure(t *testing.T) {
	e, svc := newTestServer(t, nil, []string{auth.RoleWriter})

	// Squat a directory where the stream file should go so the write fails.
	if err := squatStream(svc, "blocked"); err != nil {
		t.Fatalf("squat: %v", err)
	}

	rec := doJSON(e, http.MethodPost, "/api/v1/audit/blocked/events", `{"operation":"CREATE"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("append failure must not change the HTTP outcome, got %d", rec.Code)
	}

	var result ledger.AppendResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Written || result.Error == "" {
		t.Errorf("expected failed result in body, got %+v", result)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleAdmin})

	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE"}`)
	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"UPDATE"}`)

	rec := doJSON(e, http.MethodGet, "/api/v1/audit/audit/verify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result ledger.VerificationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Valid || result.EntriesChecked != 2 {
		t.Errorf("expected valid chain of 2, got %+v", result)
	}
}

func TestWriterCannotUseAdminRoutes(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleWriter})

	for _, route := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/audit/channels"},
		{http.MethodGet, "/api/v1/audit/events"},
		{http.MethodGet, "/api/v1/audit/audit/verify"},
		{http.MethodGet, "/api/v1/audit/audit/stats"},
		{http.MethodPost, "/api/v1/audit/audit/rotate"},
	} {
		rec := doJSON(e, route.method, route.path, "")
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403 for writer, got %d", route.method, route.path, rec.Code)
		}
	}
}

func TestUnauthenticatedForbidden(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)

	rec := doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with no roles, got %d", rec.Code)
	}
}

func TestListChannelsEndpoint(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleAdmin})

	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE"}`)
	doJSON(e, http.MethodPost, "/api/v1/audit/phi_access/events", `{"operation":"PHI_ACCESS"}`)

	rec := doJSON(e, http.MethodGet, "/api/v1/audit/channels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Channels []string `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Channels) != 2 || body.Channels[0] != "audit" || body.Channels[1] != "phi_access" {
		t.Errorf("expected sorted channels, got %v", body.Channels)
	}
}

func TestStatsEndpoint(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleAdmin})

	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE","result":{"success":true}}`)
	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE","result":{"success":false,"error":"denied"}}`)

	rec := doJSON(e, http.MethodGet, "/api/v1/audit/audit/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats ledger.ChannelStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Entries != 2 || stats.Failures != 1 || stats.ByOperation["CREATE"] != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSearchEndpointWithoutMirror(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleAdmin})

	rec := doJSON(e, http.MethodGet, "/api/v1/audit/events", "")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without mirror, got %d", rec.Code)
	}
}

func TestSearchEndpointWithMirror(t *testing.T) {
	repo := &fakeRepo{}
	e, _ := newTestServer(t, repo, []string{auth.RoleAdmin})

	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE"}`)
	doJSON(e, http.MethodPost, "/api/v1/audit/phi_access/events", `{"operation":"PHI_ACCESS"}`)

	rec := doJSON(e, http.MethodGet, "/api/v1/audit/events?channel=audit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var page struct {
		Data  []*MirrorRecord `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].Channel != "audit" {
		t.Errorf("expected one audit row, got total=%d data=%+v", page.Total, page.Data)
	}
}

func TestRotateEndpoint(t *testing.T) {
	e, _ := newTestServer(t, nil, []string{auth.RoleAdmin})

	doJSON(e, http.MethodPost, "/api/v1/audit/audit/events", `{"operation":"CREATE"}`)

	rec := doJSON(e, http.MethodPost, "/api/v1/audit/audit/rotate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["archived_to"] == "" {
		t.Errorf("expected archive path in response, got %v", body)
	}
}
