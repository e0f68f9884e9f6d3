package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"stakeline/internal/config"
	"stakeline/internal/db"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(user string) map[string]string {
	return map[string]string{"X-User-Id": user}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestCommitmentCheckInFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments", map[string]any{
		"title":              "Run 5k",
		"category":           "fitness",
		"start_date":         "2024-01-01",
		"end_date":           "2024-01-07",
		"check_in_frequency": "daily",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create commitment: %d %s", res.StatusCode, string(data))
	}
	var created domain.Commitment
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal commitment: %v", err)
	}
	if created.Status != domain.CommitmentActive || created.TotalCheckInsRequired != 7 {
		t.Fatalf("created = %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments/"+created.ID+"/check-ins", map[string]any{
		"check_in_date":        "2024-01-02",
		"user_reported_status": "success",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit check-in: %d %s", res.StatusCode, string(data))
	}
	var ci domain.CheckIn
	_ = json.Unmarshal(data, &ci)
	if ci.FinalStatus != domain.CheckInSuccess {
		t.Fatalf("stake-free check-in not auto-resolved: %+v", ci)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments/"+created.ID+"/check-ins", map[string]any{
		"check_in_date":        "2024-01-02",
		"user_reported_status": "failure",
	}, asUser("alice"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "duplicate_date" {
		t.Fatalf("duplicate submit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments/"+created.ID+"/check-ins", map[string]any{
		"check_in_date":        "2024-02-01",
		"user_reported_status": "success",
	}, asUser("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "out_of_range" {
		t.Fatalf("out of range submit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/commitments/"+created.ID, nil, asUser("mallory"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger get: %d %s", res.StatusCode, string(data))
	}
}

func TestRefereeFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments", map[string]any{
		"title":              "Write daily",
		"category":           "productivity",
		"start_date":         "2024-01-01",
		"end_date":           "2024-01-07",
		"check_in_frequency": "daily",
		"stakes_amount":      5000,
		"referee_id":         "bob",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var c domain.Commitment
	_ = json.Unmarshal(data, &c)
	if c.Status != domain.CommitmentPendingReferee {
		t.Fatalf("status = %s, want pending_referee", c.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments/"+c.ID+"/referee/accept", nil, asUser("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments/"+c.ID+"/check-ins", map[string]any{
		"check_in_date":        "2024-01-03",
		"user_reported_status": "success",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var ci domain.CheckIn
	_ = json.Unmarshal(data, &ci)
	if ci.FinalStatus != domain.CheckInPending {
		t.Fatalf("staked check-in not pending: %+v", ci)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/check-ins/pending", nil, asUser("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending list: %d %s", res.StatusCode, string(data))
	}
	var queue []domain.PendingCheckIn
	if err := json.Unmarshal(data, &queue); err != nil || len(queue) != 1 {
		t.Fatalf("queue = %s (err %v)", string(data), err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/check-ins/"+ci.ID+"/verify", map[string]any{
		"referee_note": "confirmed",
	}, asUser("mallory"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "not_authorized" {
		t.Fatalf("verify as stranger: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/check-ins/"+ci.ID+"/verify", map[string]any{
		"referee_note": "confirmed",
	}, asUser("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	var resolved domain.CheckIn
	_ = json.Unmarshal(data, &resolved)
	if resolved.FinalStatus != domain.CheckInSuccess {
		t.Fatalf("resolved = %+v", resolved)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/check-ins/"+ci.ID+"/dispute", nil, asUser("bob"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "already_resolved" {
		t.Fatalf("dispute after verify: %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/commitments", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health without auth: %d", res.StatusCode)
	}
}

func TestDevLoginIssuesUsableJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "alice",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("login body = %s (err %v)", string(data), err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard with jwt: %d %s", res.StatusCode, string(data))
	}
	var d domain.Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal dashboard: %v", err)
	}
	if d.Profile.Username != "alice" {
		t.Fatalf("dashboard profile = %+v", d.Profile)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"name": "ci",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key: %d %s", res.StatusCode, string(data))
	}
	var created APIKeyCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil || created.Key == "" {
		t.Fatalf("api key body = %s (err %v)", string(data), err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/commitments", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with api key: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/commitments", nil, map[string]string{
		"X-Api-Key": "sk_bogus",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus api key: %d", res.StatusCode)
	}
}
