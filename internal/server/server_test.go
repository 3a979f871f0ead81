package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"khatma/internal/config"
	"khatma/internal/engine"
	"khatma/internal/store"
	khatmasdk "khatma/sdk/go"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, basePath string) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Server.BasePath = basePath
	s, err := store.Open(context.Background(), cfg, workspace)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	e := engine.New(s, cfg, nil)
	handler, err := New(Config{Engine: e, BasePath: basePath})
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
			s.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
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

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, data []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v: %s", err, string(data))
	}
	return env
}

func TestReserveCompleteCancel(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	ctx := context.Background()
	api := khatmasdk.New(srv.URL)

	reg, err := api.Register(ctx, "Alpha", "12345", "Ahmed")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reg.Success || reg.UID != "12345" || !reg.Created {
		t.Fatalf("unexpected registration %+v", reg)
	}

	res, err := api.Advance(ctx, "Alpha", "12345", 5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := res.Tasks.Get(5); got.Status != khatmasdk.StatusReserved || got.HolderID != "12345" || got.HolderName != "Ahmed" {
		t.Fatalf("expected task 5 reserved by Ahmed, got %+v", got)
	}
	if len(res.Tasks) != 30 {
		t.Fatalf("expected 30 tasks, got %d", len(res.Tasks))
	}

	if _, err := api.Advance(ctx, "Alpha", "12345", 5); err != nil {
		t.Fatalf("complete: %v", err)
	}
	u, err := api.User(ctx, "12345")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if h := u.History["Alpha"]; len(h) != 1 || h[0] != 5 {
		t.Fatalf("expected history [5], got %v", h)
	}

	mission, err := api.Mission(ctx, "Alpha", "12345")
	if err != nil {
		t.Fatalf("mission: %v", err)
	}
	if mission.MyTasksCount != 1 || mission.Name != "Ahmed" {
		t.Fatalf("unexpected mission view %+v", mission)
	}

	res, err = api.Advance(ctx, "Alpha", "12345", 5)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := res.Tasks.Get(5); got.Status != khatmasdk.StatusAvailable || got.HolderID != "" || got.HolderName != "" {
		t.Fatalf("expected task 5 available, got %+v", got)
	}
	u, _ = api.User(ctx, "12345")
	if len(u.History["Alpha"]) != 0 {
		t.Fatalf("expected empty history, got %v", u.History["Alpha"])
	}
}

func TestOwnershipConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	ctx := context.Background()
	api := khatmasdk.New(srv.URL)
	for _, u := range [][2]string{{"11111", "Sara"}, {"22222", "Omar"}} {
		if _, err := api.Register(ctx, "Alpha", u[0], u[1]); err != nil {
			t.Fatalf("register %s: %v", u[0], err)
		}
	}
	if _, err := api.Advance(ctx, "Alpha", "11111", 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := api.Advance(ctx, "Alpha", "22222", 3)
	var apiErr *khatmasdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "ownership_conflict" {
		t.Fatalf("expected 409 ownership_conflict, got %d %s", apiErr.StatusCode, apiErr.Body)
	}
	if apiErr.Message != "هذه المهمة لشخص آخر!" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
	board, err := api.Board(ctx, "Alpha")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if got := board.Tasks.Get(3); got.Status != khatmasdk.StatusReserved || got.HolderID != "11111" {
		t.Fatalf("task 3 must stay with 11111, got %+v", got)
	}
}

func TestMissionCompletion(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	ctx := context.Background()
	api := khatmasdk.New(srv.URL)
	if _, err := api.Register(ctx, "Alpha", "12345", "Ahmed"); err != nil {
		t.Fatalf("register: %v", err)
	}
	var last khatmasdk.AdvanceResult
	for task := 1; task <= 30; task++ {
		for step := 0; step < 2; step++ {
			res, err := api.Advance(ctx, "Alpha", "12345", task)
			if err != nil {
				t.Fatalf("task %d step %d: %v", task, step, err)
			}
			last = res
		}
	}
	if last.CompletionMessage == "" {
		t.Fatalf("expected completion message")
	}
	if last.MissionCount != 1 {
		t.Fatalf("expected missionCount 1, got %d", last.MissionCount)
	}
	if got := last.Tasks.Get(1); got.Status != khatmasdk.StatusAvailable {
		t.Fatalf("expected task 1 available after reset, got %+v", got)
	}
}

func TestUpdateTaskErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/update_task", map[string]any{"group_name": "Alpha", "uid": "12345"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing task: %d %s", res.StatusCode, string(data))
	}
	if env := decodeEnvelope(t, data); env.Error.Code != "missing_fields" || env.Error.Message != "بيانات ناقصة" {
		t.Fatalf("unexpected envelope %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/update_task", map[string]any{"group_name": "Alpha", "uid": "12345", "task_id": "4"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: %d %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "not_registered" || env.Error.Details["redirect"] != "/login?group=Alpha" {
		t.Fatalf("unexpected envelope %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth", map[string]any{"group": "Alpha", "id": "12345", "name": "Ahmed"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("auth: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/update_task", map[string]any{"group_name": "Alpha", "uid": "12345", "task_id": 31})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("task 31: %d %s", res.StatusCode, string(data))
	}
	if env := decodeEnvelope(t, data); env.Error.Code != "validation_failed" {
		t.Fatalf("unexpected envelope %s", string(data))
	}

	// numeric strings are accepted like numbers
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/update_task", map[string]any{"group_name": "Alpha", "uid": "12345", "task_id": "4"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("string task id: %d %s", res.StatusCode, string(data))
	}
	var raw struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Status != 1 {
		t.Fatalf("expected reserved, got %d", raw.Status)
	}
}

func TestAuthValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()
	for _, tc := range []struct {
		body map[string]any
		key  string
	}{
		{map[string]any{"group": "Alpha", "id": "1234", "name": "Ahmed"}, "invalid_id"},
		{map[string]any{"group": "Alpha", "id": "12345", "name": "  "}, "missing_name"},
	} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/auth", tc.body)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: %d %s", tc.body, res.StatusCode, string(data))
		}
		env := decodeEnvelope(t, data)
		if env.Error.Code != "validation_failed" || env.Error.Details["key"] != tc.key {
			t.Fatalf("%v: unexpected envelope %s", tc.body, string(data))
		}
	}
}

func TestBoardAndGroupsUnderBasePath(t *testing.T) {
	srv, cleanup := newTestServer(t, "/api")
	defer cleanup()
	ctx := context.Background()
	api := khatmasdk.New(srv.URL + "/api")

	for _, g := range []string{"Zeta", "Alpha", "Zeta"} {
		board, err := api.Board(ctx, g)
		if err != nil {
			t.Fatalf("board %s: %v", g, err)
		}
		if board.Group != g || board.MissionCount != 0 || len(board.Tasks) != 30 {
			t.Fatalf("unexpected board %+v", board)
		}
	}
	groups, err := api.Groups(ctx)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if strings.Join(groups, ",") != "Zeta,Alpha" {
		t.Fatalf("unexpected group order %v", groups)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/get_status", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing group: %d %s", res.StatusCode, string(data))
	}

	_, err = api.Mission(ctx, "Alpha", "99999")
	var apiErr *khatmasdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_registered" || apiErr.Redirect() != "/api/login?group=Alpha" {
		t.Fatalf("expected not_registered redirect, got %v", err)
	}

	_, err = api.User(ctx, "99999")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/health", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/openapi.json", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	var oas map[string]any
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	paths, _ := oas["paths"].(map[string]any)
	for _, p := range []string{"/auth", "/update_task", "/get_status", "/groups", "/mission", "/users/{uid}"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/openapi.json") {
		t.Fatalf("docs: %d", res.StatusCode)
	}
}
