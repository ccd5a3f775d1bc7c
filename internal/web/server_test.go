package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/JonMunkholm/canview/internal/config"
	"github.com/JonMunkholm/canview/internal/core"
	_ "github.com/JonMunkholm/canview/internal/core/formats"
)

const (
	testDBC = "BO_ 256 Engine: 8 ECU\n SG_ Speed : 0|8@1+ (0.5,10) [0|255] \"km/h\" Dash\n"
	testASC = "0.5 1 100 Rx d 1 64\n1.5 1 100 Rx d 1 14\n2.5 1 200 Rx d 1 FF\n"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeout: 10 * time.Second, ShutdownTimeout: time.Second},
		Upload:  config.UploadConfig{MaxFileSize: 1 << 20},
		Decode:  config.DecodeConfig{MaxConcurrent: 2, MaxWaitTime: time.Second, Timeout: 10 * time.Second},
		Session: config.SessionConfig{TTL: time.Minute, MaxSessions: 4, ReapInterval: time.Minute},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	svc := core.NewService(core.Options{
		MaxConcurrentDecodes: cfg.Decode.MaxConcurrent,
		MaxDecodeWait:        cfg.Decode.MaxWaitTime,
		DecodeTimeout:        cfg.Decode.Timeout,
		SessionTTL:           cfg.Session.TTL,
		MaxSessions:          cfg.Session.MaxSessions,
	})
	s := NewServer(svc, cfg)
	t.Cleanup(func() { s.Shutdown(t.Context()) })
	return s
}

func do(t *testing.T, s *Server, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, s *Server, path, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return do(t, s, http.MethodPost, path, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createSession(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode[core.SessionSummary](t, rec).ID
}

func TestHealthAndFormats(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	health := decode[healthResponse](t, rec)
	if health.Status != "ok" || health.Decoder.MaxConcurrent != 2 {
		t.Errorf("health = %+v", health)
	}

	rec = do(t, s, http.MethodGet, "/api/formats", nil, "")
	formats := decode[[]core.FormatInfo](t, rec)
	var keys []string
	for _, f := range formats {
		keys = append(keys, f.Key)
	}
	if diff := cmp.Diff([]string{"dbc", "sym", "asc", "blf", "trc"}, keys, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("format keys (-want +got):\n%s", diff)
	}
}

func TestSessionWorkflow(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := createSession(t, s)
	base := "/api/sessions/" + id

	rec := upload(t, s, base+"/database", "car.dbc", testDBC)
	if rec.Code != http.StatusOK {
		t.Fatalf("load database: status %d body %s", rec.Code, rec.Body.String())
	}
	if res := decode[core.LoadResult](t, rec); res.Format != "dbc" || res.Messages != 1 || res.Partial {
		t.Errorf("database result = %+v", res)
	}

	rec = upload(t, s, base+"/trace", "drive.asc", testASC)
	if rec.Code != http.StatusOK {
		t.Fatalf("load trace: status %d body %s", rec.Code, rec.Body.String())
	}
	if res := decode[core.LoadResult](t, rec); res.Format != "asc" || res.Frames != 3 {
		t.Errorf("trace result = %+v", res)
	}

	rec = do(t, s, http.MethodGet, base+"/messages", nil, "")
	msgs := decode[[]core.Message](t, rec)
	if len(msgs) != 1 || msgs[0].Name != "Engine" || msgs[0].HexID != "0x100" {
		t.Errorf("messages = %+v", msgs)
	}

	rec = do(t, s, http.MethodGet, base+"/nodes", nil, "")
	nodes := decode[[]core.Node](t, rec)
	if len(nodes) != 2 || nodes[0].Name != "ECU" || nodes[1].Name != "Dash" {
		t.Errorf("nodes = %+v", nodes)
	}

	rec = do(t, s, http.MethodGet, base+"/frames?offset=1&limit=1", nil, "")
	type wireFrame struct {
		Timestamp     float64 `json:"timestamp"`
		ArbitrationID uint32  `json:"arbitrationId"`
		Data          []int   `json:"data"`
	}
	frames := decode[struct {
		Total  int         `json:"total"`
		Offset int         `json:"offset"`
		Frames []wireFrame `json:"frames"`
	}](t, rec)
	if frames.Total != 3 || frames.Offset != 1 || len(frames.Frames) != 1 {
		t.Fatalf("frames = %+v", frames)
	}
	if f := frames.Frames[0]; f.Timestamp != 1.5 || f.ArbitrationID != 0x100 || !cmp.Equal(f.Data, []int{0x14}) {
		t.Errorf("frame = %+v", f)
	}

	rec = do(t, s, http.MethodGet, base+"/signals?name=Speed", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("signals: status %d body %s", rec.Code, rec.Body.String())
	}
	want := []core.Series{{
		Signal: "Speed", Message: "Engine", Units: "km/h",
		Points: []core.Point{{Time: 0.5, Value: 60}, {Time: 1.5, Value: 20}},
	}}
	if diff := cmp.Diff(want, decode[[]core.Series](t, rec)); diff != "" {
		t.Errorf("series (-want +got):\n%s", diff)
	}

	rec = do(t, s, http.MethodGet, base, nil, "")
	summary := decode[core.SessionSummary](t, rec)
	if summary.Database != "car.dbc" || summary.Trace != "drive.asc" || summary.Frames != 3 {
		t.Errorf("summary = %+v", summary)
	}

	if rec := do(t, s, http.MethodDelete, base, nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, base, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 64
	s := newTestServer(t, cfg)
	id := createSession(t, s)
	base := "/api/sessions/" + id

	tests := []struct {
		name   string
		rec    func() *httptest.ResponseRecorder
		status int
		code   string
	}{
		{"unknown session", func() *httptest.ResponseRecorder {
			return do(t, s, http.MethodGet, "/api/sessions/missing/frames", nil, "")
		}, http.StatusNotFound, "SES001"},
		{"trace as database", func() *httptest.ResponseRecorder {
			return upload(t, s, base+"/database", "drive.asc", "x")
		}, http.StatusUnsupportedMediaType, "FMT002"},
		{"unknown extension", func() *httptest.ResponseRecorder {
			return upload(t, s, base+"/trace", "drive.csv", "x")
		}, http.StatusUnsupportedMediaType, "FMT001"},
		{"empty file", func() *httptest.ResponseRecorder {
			return upload(t, s, base+"/trace", "drive.asc", "")
		}, http.StatusBadRequest, "UPL003"},
		{"no multipart body", func() *httptest.ResponseRecorder {
			return do(t, s, http.MethodPost, base+"/trace", bytes.NewBufferString("{}"), "application/json")
		}, http.StatusBadRequest, "UPL003"},
		{"file too large", func() *httptest.ResponseRecorder {
			return upload(t, s, base+"/trace", "drive.asc", strings.Repeat("0.1 1 100 Rx d 0\n", 200))
		}, http.StatusRequestEntityTooLarge, "UPL001"},
		{"messages before database", func() *httptest.ResponseRecorder {
			return do(t, s, http.MethodGet, base+"/messages", nil, "")
		}, http.StatusConflict, "SES003"},
		{"frames before trace", func() *httptest.ResponseRecorder {
			return do(t, s, http.MethodGet, base+"/frames", nil, "")
		}, http.StatusConflict, "SES004"},
		{"signals without name", func() *httptest.ResponseRecorder {
			return do(t, s, http.MethodGet, base+"/signals", nil, "")
		}, http.StatusBadRequest, "SIG001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec()
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/healthz", nil, "")

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != "" {
		t.Errorf("CSP set while disabled: %q", got)
	}

	cfg := testConfig()
	cfg.Security.EnableCSP = true
	s = newTestServer(t, cfg)
	rec = do(t, s, http.MethodGet, "/healthz", nil, "")
	if got := rec.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'none'") {
		t.Errorf("CSP = %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q", got)
	}
	if got := decode[ErrorResponse](t, rec); got.Code != "RATE001" {
		t.Errorf("code = %s", got.Code)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") {
		t.Fatal("first request rejected")
	}
	if rl.allow("a") {
		t.Fatal("second request allowed within window")
	}
	if !rl.allow("b") {
		t.Fatal("other client rejected")
	}
	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Fatal("request rejected after window reset")
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	s := newTestServer(t, cfg)

	if rec := do(t, s, http.MethodGet, "/api/formats", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthz should not require a key, status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSessionLimit, http.StatusServiceUnavailable},
		{core.ErrTooManyDecodes, http.StatusServiceUnavailable},
		{&core.DecodeError{Format: "blf", Kind: core.KindStructural, Err: core.ErrBadSignature}, http.StatusUnprocessableEntity},
		{core.ErrSignalNotFound, http.StatusNotFound},
		{errFileTooLarge, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
