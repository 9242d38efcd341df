package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"transcript-pipeline-service/internal/app"
	"transcript-pipeline-service/internal/config"
	"transcript-pipeline-service/internal/events"
	"transcript-pipeline-service/internal/service/callback"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/stt"
	"transcript-pipeline-service/internal/service/transcript"
	"transcript-pipeline-service/internal/service/trigger"
	"transcript-pipeline-service/internal/storage"
)

const resultDoc = `{"results": [{
  "speaker_labels": [{"from": 0.0, "to": 0.4, "speaker": 0, "confidence": 0.5, "final": false}],
  "results": [
    {"alternatives": [{"transcript": "hello %HESITATION there", "timestamps": [["hello", 0.0, 0.4], ["there", 0.5, 0.9]]}], "final": true},
    {"alternatives": [{"transcript": "bye", "timestamps": [["bye", 1.25, 1.5]]}], "final": true}
  ]
}], "result_index": 0}`

// recordingPipeline stands in for the ingestion and normalization stages.
type recordingPipeline struct {
	mu         sync.Mutex
	ingested   []string
	normalized []string
}

func (p *recordingPipeline) Handle(ctx context.Context, key string) (*stt.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ingested = append(p.ingested, key)
	return &stt.Job{ID: "job-1"}, nil
}

func (p *recordingPipeline) Normalize(ctx context.Context, resultKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normalized = append(p.normalized, resultKey)
	return "", nil
}

type testServer struct {
	handler  http.Handler
	store    *storage.MemoryStore
	pipeline *recordingPipeline
	ledger   *job.MemoryLedger
	app      *app.Application
}

func newTestServer(t *testing.T, mutate ...func(*config.Configuration)) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Auth.Username = "operator"
	cfg.Auth.Password = "s3cret"
	cfg.Auth.SessionSecret = "test-secret"
	for _, m := range mutate {
		m(cfg)
	}

	store := storage.NewMemoryStore("test")
	pub := events.New(nil)
	pipeline := &recordingPipeline{}
	ledger := job.NewMemoryLedger()
	receiver := callback.NewReceiverWithClock(store, pub, func() time.Time {
		return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	})

	application := app.New(cfg)
	h := NewRouter(application, Services{
		Store:    store,
		Receiver: receiver,
		Editor:   transcript.NewEditor(store, pub),
		Trigger:  trigger.NewRouter(pipeline, pipeline),
		Ledger:   ledger,
		Live:     events.NewHub(),
	})
	return &testServer{handler: h, store: store, pipeline: pipeline, ledger: ledger, app: application}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) put(t *testing.T, key, body string) {
	t.Helper()
	if err := s.store.Put(context.Background(), key, []byte(body), ""); err != nil {
		t.Fatal(err)
	}
}

// login returns a valid session cookie.
func (s *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()
	form := url.Values{"username": {"operator"}, "password": {"s3cret"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := s.do(req)
	if rec.Code != http.StatusFound {
		t.Fatalf("login returned %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("login set no session cookie")
	return nil
}

func authed(req *http.Request, c *http.Cookie) *http.Request {
	req.AddCookie(c)
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestProbes(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/liveness", nil)); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("liveness: %d %q", rec.Code, rec.Body.String())
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/readiness", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness before start: %d", rec.Code)
	}
	if err := s.app.Start(); err != nil {
		t.Fatal(err)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/readiness", nil)); rec.Code != http.StatusOK {
		t.Errorf("readiness after start: %d", rec.Code)
	}
}

func TestCallback_Verify(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"echoes challenge", "/callback/a.wav/results?challenge_string=abc123", "abc123"},
		{"empty without challenge", "/callback/a.wav/results", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("content type %q", ct)
			}
			if rec.Body.String() != tt.want {
				t.Errorf("body %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestCallback_StoresResult(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/callback/a.wav/results", strings.NewReader(resultDoc)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["message"] != "Success" {
		t.Errorf("unexpected body %v", body)
	}

	stored, err := s.store.Get(context.Background(), "20240101/results/a.wav.json")
	if err != nil {
		t.Fatalf("result not stored: %v", err)
	}
	if string(stored) != resultDoc {
		t.Error("stored result differs from the delivered body")
	}
}

func TestCallback_RejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/callback/a.wav/results", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	listing, _ := s.store.List(context.Background(), "", "")
	if len(listing.Keys) != 0 {
		t.Errorf("expected nothing stored, got %v", listing.Keys)
	}
}

func TestSessionRequired(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/", "/download?key=x", "/upload", "/s3-post", "/edit", "/jobs/a.wav", "/events/ws"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusFound {
			t.Errorf("%s: expected 302, got %d", target, rec.Code)
			continue
		}
		if loc := rec.Header().Get("Location"); loc != "/login?next=/" {
			t.Errorf("%s: redirected to %q", target, loc)
		}
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		user, pass string
		next       string
		wantCode   int
		wantLoc    string
		wantCookie bool
	}{
		{"wrong password", "operator", "nope", "", http.StatusOK, "", false},
		{"no next", "operator", "s3cret", "", http.StatusFound, "/", true},
		{"relative next", "operator", "s3cret", "/edit?prefix=20240101", http.StatusFound, "/edit?prefix=20240101", true},
		{"foreign host", "operator", "s3cret", "https://evil.example.com/", http.StatusBadRequest, "", true},
		{"scheme relative", "operator", "s3cret", "//evil.example.com/x", http.StatusBadRequest, "", true},
		{"backslash host", "operator", "s3cret", `/\evil.example.com/`, http.StatusBadRequest, "", true},
		{"javascript", "operator", "s3cret", "javascript:alert(1)", http.StatusBadRequest, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"username": {tt.user}, "password": {tt.pass}}
			req := httptest.NewRequest(http.MethodPost, "/login?next="+url.QueryEscape(tt.next), strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := s.do(req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantLoc != "" && rec.Header().Get("Location") != tt.wantLoc {
				t.Errorf("location %q, want %q", rec.Header().Get("Location"), tt.wantLoc)
			}
			got := false
			for _, c := range rec.Result().Cookies() {
				if c.Name == sessionCookie && c.Value != "" {
					got = true
				}
			}
			if got != tt.wantCookie {
				t.Errorf("session cookie set = %v, want %v", got, tt.wantCookie)
			}
		})
	}
}

func TestLogin_NoConfiguredCredentials(t *testing.T) {
	s := newTestServer(t, func(c *config.Configuration) {
		c.Auth.Username = ""
		c.Auth.Password = ""
	})

	form := url.Values{"username": {""}, "password": {""}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := s.do(req); rec.Code != http.StatusOK || len(rec.Result().Cookies()) != 0 {
		t.Errorf("expected login to be refused, got %d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/logout", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Fatalf("logout: %d %q", rec.Code, rec.Header().Get("Location"))
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected the session cookie to be cleared")
	}
}

func TestBrowse_TopLevelListsDates(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)
	s.put(t, "20240101/recordings/a.wav", "audio")
	s.put(t, "20240102/recordings/b.mp3", "audio")

	rec := s.do(authed(httptest.NewRequest(http.MethodGet, "/", nil), c))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body browseResponse
	decodeJSON(t, rec, &body)
	if len(body.Prefixes) != 2 || body.Prefixes[0] != "20240101/" || body.Prefixes[1] != "20240102/" {
		t.Errorf("prefixes %v", body.Prefixes)
	}
	if len(body.Keys) != 0 {
		t.Errorf("expected no recordings at top level, got %v", body.Keys)
	}
}

func TestBrowse_PrefixListsRecordings(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)
	s.put(t, "20240101/recordings/a.wav", "audio")
	s.put(t, "20240101/recordings/b.mp3", "audio")
	s.put(t, "20240101/results/a.wav.json", resultDoc)
	s.put(t, "20240101/clean/a.wav.csv", "speaker,transcript,start_time,end_time")

	rec := s.do(authed(httptest.NewRequest(http.MethodGet, "/?prefix=20240101", nil), c))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body browseResponse
	decodeJSON(t, rec, &body)

	if body.PrefixDate != "20240101" {
		t.Errorf("prefix_date %q", body.PrefixDate)
	}
	if len(body.Keys) != 2 {
		t.Fatalf("expected 2 recordings, got %+v", body.Keys)
	}

	a, b := body.Keys[0], body.Keys[1]
	if a.Recording != "a.wav" || a.Filetype != "audio/x-wav" {
		t.Errorf("a: %+v", a)
	}
	if a.Transcript != "a.wav.csv" || !strings.Contains(a.TranscriptURL, "clean") {
		t.Errorf("a transcript: %+v", a)
	}
	if a.AudioURL == "" {
		t.Error("a has no audio url")
	}
	if b.Recording != "b.mp3" || b.Filetype != "audio/mp3" || b.Transcript != "" {
		t.Errorf("b: %+v", b)
	}
}

func TestDownload(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)

	rec := s.do(authed(httptest.NewRequest(http.MethodGet, "/download", nil), c))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["error"] != "key is required" {
		t.Errorf("unexpected body %v", body)
	}

	rec = s.do(authed(httptest.NewRequest(http.MethodGet, "/download?key=20240101/clean/a.wav.csv", nil), c))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "memory://test/") {
		t.Errorf("redirected to %q", loc)
	}
}

func TestUpload(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)

	for _, p := range []string{"/upload", "/s3-post"} {
		rec := s.do(authed(httptest.NewRequest(http.MethodGet, p, nil), c))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "file-name") {
			t.Errorf("%s form: %d", p, rec.Code)
		}
	}

	form := url.Values{"file-name": {"20240101/recordings/c.wav"}, "file-type": {"audio/wav"}}
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := s.do(authed(req, c))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var post storage.PresignedPost
	decodeJSON(t, rec, &post)
	if post.URL == "" || post.Fields["key"] != "20240101/recordings/c.wav" || post.Fields["Content-Type"] != "audio/wav" {
		t.Errorf("unexpected presigned post %+v", post)
	}

	req = httptest.NewRequest(http.MethodPost, "/s3-post", strings.NewReader("file-name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := s.do(authed(req, c)); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without file-type, got %d", rec.Code)
	}
}

func TestEdit_Load(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)
	s.put(t, "20240101/results/a.wav.json", resultDoc)

	rec := s.do(authed(httptest.NewRequest(http.MethodGet, "/edit?prefix=20240101&recording=a.wav", nil), c))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		TranscriptKey string `json:"transcript_key"`
		AudioURL      string `json:"audio_url"`
		Filetype      string `json:"filetype"`
		Results       []struct {
			Transcript string  `json:"transcript"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
		} `json:"results"`
	}
	decodeJSON(t, rec, &body)

	if body.TranscriptKey != "20240101/results/a.wav.json" {
		t.Errorf("transcript_key %q", body.TranscriptKey)
	}
	if body.Filetype != "audio/wav" {
		t.Errorf("filetype %q", body.Filetype)
	}
	if !strings.Contains(body.AudioURL, "recordings") {
		t.Errorf("audio_url %q", body.AudioURL)
	}
	if len(body.Results) != 2 || body.Results[0].Transcript != "hello  there" || body.Results[1].Start != 1.25 || body.Results[1].End != 1.5 {
		t.Errorf("results %+v", body.Results)
	}
}

func TestEdit_LoadRedirectsWithoutParams(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)

	for _, target := range []string{"/edit", "/edit?prefix=20240101", "/edit?recording=a.wav"} {
		rec := s.do(authed(httptest.NewRequest(http.MethodGet, target, nil), c))
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
			t.Errorf("%s: %d %q", target, rec.Code, rec.Header().Get("Location"))
		}
	}

	rec := s.do(authed(httptest.NewRequest(http.MethodGet, "/edit?prefix=20240101&recording=missing.wav", nil), c))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing transcript: expected 404, got %d", rec.Code)
	}
}

func TestEdit_Apply(t *testing.T) {
	const key = "20240101/results/a.wav.json"

	tests := []struct {
		name     string
		results  []string
		wantCode int
		changed  bool
	}{
		{"matching count", []string{"hello there", "goodbye"}, http.StatusOK, true},
		{"too few", []string{"hello there"}, http.StatusFound, false},
		{"too many", []string{"a", "b", "c"}, http.StatusFound, false},
		{"empty", []string{}, http.StatusFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			c := s.login(t)
			s.put(t, key, resultDoc)

			payload, _ := json.Marshal(map[string]any{"transcript_key": key, "results": tt.results})
			rec := s.do(authed(httptest.NewRequest(http.MethodPost, "/edit", bytes.NewReader(payload)), c))
			if rec.Code != tt.wantCode {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}

			stored, _ := s.store.Get(context.Background(), key)
			if changed := string(stored) != resultDoc; changed != tt.changed {
				t.Errorf("stored document changed = %v, want %v", changed, tt.changed)
			}
			if tt.wantCode == http.StatusFound && rec.Header().Get("Location") != "/" {
				t.Errorf("redirected to %q", rec.Header().Get("Location"))
			}
			if tt.changed && !strings.Contains(string(stored), `"transcript":"goodbye"`) {
				t.Errorf("edit not applied: %s", stored)
			}
		})
	}
}

func TestEdit_ApplyRejectsNonResultKey(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)

	payload := `{"transcript_key": "20240101/recordings/a.wav", "results": ["x"]}`
	rec := s.do(authed(httptest.NewRequest(http.MethodPost, "/edit", strings.NewReader(payload)), c))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestStorageEvent(t *testing.T) {
	notification := `{"Records": [
		{"s3": {"bucket": {"name": "test"}, "object": {"key": "20240101/recordings/call+one.wav"}}},
		{"s3": {"bucket": {"name": "test"}, "object": {"key": "20240101/results/a.wav.json"}}},
		{"s3": {"bucket": {"name": "test"}, "object": {"key": "20240101/clean/a.wav.csv"}}}
	]}`

	t.Run("routes every record", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(httptest.NewRequest(http.MethodPost, "/events/storage", strings.NewReader(notification)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
		}
		if len(s.pipeline.ingested) != 1 || s.pipeline.ingested[0] != "20240101/recordings/call one.wav" {
			t.Errorf("ingested %v", s.pipeline.ingested)
		}
		if len(s.pipeline.normalized) != 1 || s.pipeline.normalized[0] != "20240101/results/a.wav.json" {
			t.Errorf("normalized %v", s.pipeline.normalized)
		}
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(httptest.NewRequest(http.MethodPost, "/events/storage", strings.NewReader("nope")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("requires the configured token", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Configuration) { c.Auth.EventsToken = "tok" })

		rec := s.do(httptest.NewRequest(http.MethodPost, "/events/storage", strings.NewReader(notification)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if len(s.pipeline.ingested) != 0 {
			t.Error("unauthorized notification was routed")
		}

		req := httptest.NewRequest(http.MethodPost, "/events/storage", strings.NewReader(notification))
		req.Header.Set("Authorization", "Bearer tok")
		if rec := s.do(req); rec.Code != http.StatusOK {
			t.Errorf("expected 200 with token, got %d", rec.Code)
		}
	})
}

func TestJobStatus(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t)

	rec := s.do(authed(httptest.NewRequest(http.MethodGet, "/jobs/a.wav", nil), c))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	err := s.ledger.Record(context.Background(), job.Update{
		JobID:    "a.wav",
		Status:   job.StateSubmitted,
		AudioKey: "20240101/recordings/a.wav",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec = s.do(authed(httptest.NewRequest(http.MethodGet, "/jobs/a.wav", nil), c))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	decodeJSON(t, rec, &body)
	if body["jobId"] != "a.wav" || body["status"] != "SUBMITTED" || body["audioKey"] != "20240101/recordings/a.wav" {
		t.Errorf("unexpected record %v", body)
	}
}
