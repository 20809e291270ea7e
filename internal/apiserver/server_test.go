package apiserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"distill/internal/analysis"
	"distill/internal/apiserver"
	"distill/internal/config"
	"distill/internal/ipc"
	"distill/internal/logging"
	"distill/internal/pipeline"
	"distill/internal/pushhub"
	"distill/internal/task"
	"distill/internal/testsupport"
)

type stack struct {
	cfg      *config.Config
	baseURL  string
	storeSrv *ipc.Server
}

func startStack(t *testing.T, opts ...testsupport.ConfigOption) *stack {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)

	storeSrv, err := ipc.NewServer(context.Background(), "127.0.0.1:0", st, logging.NewNop())
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	storeSrv.Serve()
	t.Cleanup(storeSrv.Close)

	client := ipc.NewClient(storeSrv.Addr(), 2*time.Second)
	hub := pushhub.NewHub()
	runner := pipeline.NewRunner(cfg, client,
		analysis.NewFileResolver(cfg.Paths.IngestDir),
		analysis.NewExtractor("", cfg.Paths.OutputDir),
		analysis.NewReporter("", cfg.Paths.OutputDir, cfg.Paths.ReportDir),
		hub, logging.NewNop())
	t.Cleanup(runner.Stop)

	srv := apiserver.NewServer(cfg, runner, hub, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("apiserver.Start: %v", err)
	}

	return &stack{cfg: cfg, baseURL: "http://" + srv.Addr(), storeSrv: storeSrv}
}

func (s *stack) writeIngest(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.cfg.Paths.IngestDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write ingest file: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any, token string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeTask(t *testing.T, resp *http.Response) task.Summary {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Task task.Summary `json:"task"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return body.Task
}

func pollTasks(t *testing.T, baseURL, taskID string, pred func(task.Summary) bool) task.Summary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/tasks")
		if err != nil {
			t.Fatalf("GET /api/tasks: %v", err)
		}
		var body struct {
			Tasks []task.Summary `json:"tasks"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode tasks: %v", err)
		}
		for _, s := range body.Tasks {
			if s.TaskID == taskID && pred(s) {
				return s
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached expected state", taskID)
	return task.Summary{}
}

func TestFullPipelineOverHTTP(t *testing.T) {
	s := startStack(t)
	s.writeIngest(t, "clip.txt", "one\ntwo\n")

	resp := postJSON(t, s.baseURL+"/api/tasks/stage1", map[string]string{"source_ref": "clip.txt"}, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("stage1 status = %d", resp.StatusCode)
	}
	created := decodeTask(t, resp)
	if created.TaskID == "" || created.ModelName != s.cfg.Analysis.DefaultModel {
		t.Fatalf("created = %+v", created)
	}

	pollTasks(t, s.baseURL, created.TaskID, func(sm task.Summary) bool {
		return sm.Stage1Status == task.StatusCompleted
	})

	outResp, err := http.Get(fmt.Sprintf("%s/api/tasks/%s/stage1-output", s.baseURL, created.TaskID))
	if err != nil {
		t.Fatalf("GET stage1-output: %v", err)
	}
	var out struct {
		TaskID    string `json:"task_id"`
		OutputRef string `json:"output_ref"`
	}
	err = json.NewDecoder(outResp.Body).Decode(&out)
	outResp.Body.Close()
	if err != nil || out.OutputRef == "" {
		t.Fatalf("stage1-output = %+v, err %v", out, err)
	}
	if _, err := os.Stat(filepath.Join(s.cfg.Paths.OutputDir, out.OutputRef)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/tasks/%s/stage2", s.baseURL, created.TaskID), nil, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("stage2 status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	pollTasks(t, s.baseURL, created.TaskID, func(sm task.Summary) bool {
		return sm.Stage2Status == task.StatusCompleted
	})

	healthResp, err := http.Get(s.baseURL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", healthResp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
		Stuck  int    `json:"stuck"`
	}
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Stuck != 0 {
		t.Fatalf("health = %+v", health)
	}
}

func TestFailureStatusMapping(t *testing.T) {
	s := startStack(t)
	s.writeIngest(t, "clip.txt", "data\n")

	// Unresolvable source.
	resp := postJSON(t, s.baseURL+"/api/tasks/stage1", map[string]string{"source_ref": "missing.txt"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid source status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown task.
	resp = postJSON(t, s.baseURL+"/api/tasks/no-such-task/stage2", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown task status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(s.baseURL + "/api/tasks/no-such-task/stage1-output")
	if err != nil {
		t.Fatalf("GET stage1-output: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown output status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBearerTokenGuardsMutations(t *testing.T) {
	s := startStack(t, testsupport.WithAPIToken("sekrit"))
	s.writeIngest(t, "clip.txt", "data\n")

	resp := postJSON(t, s.baseURL+"/api/tasks/stage1", map[string]string{"source_ref": "clip.txt"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Reads stay open.
	readResp, err := http.Get(s.baseURL + "/api/tasks")
	if err != nil {
		t.Fatalf("GET /api/tasks: %v", err)
	}
	if readResp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", readResp.StatusCode)
	}
	readResp.Body.Close()

	resp = postJSON(t, s.baseURL+"/api/tasks/stage1", map[string]string{"source_ref": "clip.txt"}, "sekrit")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("authenticated status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEventsPushOnStatusChange(t *testing.T) {
	s := startStack(t)
	s.writeIngest(t, "clip.txt", "data\n")

	wsURL := "ws" + s.baseURL[len("http"):] + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	resp := postJSON(t, s.baseURL+"/api/tasks/stage1", map[string]string{"source_ref": "clip.txt"}, "")
	created := decodeTask(t, resp)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt struct {
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		TaskID string `json:"task_id"`
	}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "status_changed" || evt.Seq == 0 {
		t.Fatalf("event = %+v", evt)
	}
	if evt.TaskID != "" && evt.TaskID != created.TaskID {
		t.Fatalf("event task = %q, want %q", evt.TaskID, created.TaskID)
	}
}

func TestStoreOutageSurfacesAsServiceUnavailable(t *testing.T) {
	s := startStack(t)
	s.storeSrv.Close()

	resp, err := http.Get(s.baseURL + "/api/tasks")
	if err != nil {
		t.Fatalf("GET /api/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "store_unavailable" {
		t.Fatalf("error code = %q", body.Error.Code)
	}
}
