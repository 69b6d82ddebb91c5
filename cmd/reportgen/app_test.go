package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/reportgen/broadcast"
	"github.com/c360studio/reportgen/config"
	"github.com/c360studio/reportgen/hitl"
	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/llm/testutil"
	"github.com/c360studio/reportgen/model"
	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/tools/report"
	"github.com/c360studio/reportgen/vision"
	"github.com/c360studio/reportgen/workflow"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NATS.Embedded = false
	cfg.Storage.Backend = config.BackendMemory
	cfg.Knowledge.Root = t.TempDir()
	cfg.Workflow.ReasoningFlushInterval = 10 * time.Millisecond
	return cfg
}

func startMemoryApp(t *testing.T, cfg *config.Config, opts ...AppOption) *App {
	t.Helper()
	app, err := NewApp(cfg, slog.Default(), opts...)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(app.Shutdown)
	return app
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{name: "debug", want: slog.LevelDebug},
		{name: "INFO", want: slog.LevelInfo},
		{name: "warn", want: slog.LevelWarn},
		{name: "error", want: slog.LevelError},
		{name: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.name))
		})
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "sqlite"

	_, err := NewApp(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestApp_MemoryBackendSkipsNATS(t *testing.T) {
	app := startMemoryApp(t, memoryConfig(t), WithClient(&testutil.MockLLMClient{}))

	assert.Nil(t, app.natsConn)
	assert.Nil(t, app.embeddedServer)
	assert.NotNil(t, app.store)
	assert.NotNil(t, app.controller.Load())
	assert.Equal(t, broadcast.Discard, app.publisher)
}

func TestApp_PlanReviewOverHTTP(t *testing.T) {
	mock := &testutil.MockLLMClient{ByCapability: map[string][]*llm.Response{
		"planning": {
			{Content: `{"next_step": "write"}`},
			{Content: `{"next_step": "FINISH"}`},
		},
		"writing": {
			{ToolCalls: []llm.ToolCall{{ID: "p1", Name: workflow.SubmitPlanTool, Arguments: map[string]any{
				"sections": []any{map[string]any{"sectionId": "scope", "title": "Scope"}},
			}}}},
			{ToolCalls: []llm.ToolCall{{ID: "w1", Name: report.ToolWriteSection, Arguments: map[string]any{
				"sectionId": "scope", "heading": "Scope", "content": "Roof and loading docks.",
			}}}},
			{Content: "Report written."},
		},
	}}
	recorder := broadcast.NewRecorder(nil)
	app := startMemoryApp(t, memoryConfig(t), WithClient(mock), WithPublisher(recorder))

	ctx := context.Background()
	require.NoError(t, app.ImportProject(ctx, &storage.Project{
		ID:    "proj-1",
		Name:  "Dock 4",
		Specs: map[string]string{"roof": "TPO"},
	}))

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	body := `{"userId": "u-1", "projectId": "proj-1", "reportType": "observation"}`
	resp, err := http.Post(srv.URL+"/api/reports", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var handle hitl.RunHandle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&handle))
	assert.Equal(t, workflow.ReportAwaitingApproval, handle.Status)
	require.NotNil(t, handle.Plan)

	statusResp, err := http.Get(srv.URL + "/api/reports/" + handle.RunID + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var record storage.ApprovalRecord
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&record))
	assert.Equal(t, workflow.ReportAwaitingApproval, record.Status)
	assert.Equal(t, []string{"Scope"}, record.Plan.Titles())

	resumeResp, err := http.Post(srv.URL+"/api/reports/"+handle.RunID+"/resume", "application/json",
		strings.NewReader(`{"approvalStatus": "APPROVED"}`))
	require.NoError(t, err)
	defer resumeResp.Body.Close()
	require.Equal(t, http.StatusOK, resumeResp.StatusCode)

	var ack hitl.Ack
	require.NoError(t, json.NewDecoder(resumeResp.Body).Decode(&ack))
	assert.Equal(t, workflow.ReportCompleted, ack.Status)

	r, err := app.store.GetReport(ctx, handle.RunID)
	require.NoError(t, err)
	require.Len(t, r.Sections, 1)
	assert.Equal(t, "Roof and loading docks.", r.Sections[0].Content)

	_, ok := recorder.Last("proj-1", broadcast.TypeReportComplete)
	assert.True(t, ok)

	metricsResp, err := http.Get(srv.URL + "/api/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	var scraped bytes.Buffer
	_, err = scraped.ReadFrom(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, scraped.String(), `reportgen_runs_total{outcome="completed"} 1`)
	assert.Contains(t, scraped.String(), `reportgen_runs_total{outcome="paused"} 1`)
}

// visionServer answers vision calls, failing every call for the image whose
// URL contains failID with a 503. It counts calls per image.
func visionServer(t *testing.T, failID string) (*httptest.Server, func(string) int) {
	t.Helper()
	var (
		mu   sync.Mutex
		hits = make(map[string]int)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		id := ""
		for _, candidate := range []string{"img-1", "img-2", "img-3", "img-4"} {
			if strings.Contains(body.String(), candidate+".jpg") {
				id = candidate
			}
		}
		mu.Lock()
		hits[id]++
		mu.Unlock()

		if id == failID {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "vision-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"description": "Ponding on roof membrane", "tags": ["roof"], "severity": "Medium"}`,
				},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return srv, func(id string) int {
		mu.Lock()
		defer mu.Unlock()
		return hits[id]
	}
}

func TestApp_VisionRetriesStayPerImage(t *testing.T) {
	srv, hits := visionServer(t, "img-2")

	cfg := memoryConfig(t)
	cfg.Vision.BackoffStep = 10 * time.Millisecond
	cfg.Model = model.RegistryConfig{
		Capabilities: map[string]*model.CapabilityConfig{
			string(model.CapabilityVision): {Preferred: []string{"vision-model"}},
		},
		Endpoints: map[string]*model.EndpointConfig{
			"vision-model": {Provider: "ollama", URL: srv.URL, Model: "vision-model"},
		},
	}
	app := startMemoryApp(t, cfg)
	processor := app.visionProcessor(app.cfg)

	image := func(id string) vision.Request {
		return vision.Request{ID: id, URL: "https://img.example/" + id + ".jpg"}
	}

	ctx := context.Background()
	results := processor.AnalyzeBatch(ctx, []vision.Request{image("img-1"), image("img-2"), image("img-3")})
	require.Len(t, results, 3)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.Equal(t, "img-2", results[1].ImageID)
	assert.False(t, results[2].Failed())
	assert.Equal(t, 3, hits("img-2"), "one model call per processor attempt")

	next := processor.AnalyzeBatch(ctx, []vision.Request{image("img-4")})
	require.Len(t, next, 1)
	assert.False(t, next[0].Failed(), "a failing image must not close the endpoint: %s", next[0].Error)
	assert.Equal(t, "Ponding on roof membrane", next[0].Description)
	assert.Equal(t, 1, hits("img-4"))
}

func TestApp_ApplyConfigRebuildsController(t *testing.T) {
	level := new(slog.LevelVar)
	app := startMemoryApp(t, memoryConfig(t), WithClient(&testutil.MockLLMClient{}), WithLevelVar(level))
	before := app.controller.Load()

	reloaded := config.DefaultConfig()
	reloaded.Log.Level = "debug"
	reloaded.Workflow.MaxSteps = 40
	reloaded.Storage.Backend = config.BackendPostgres
	app.applyConfig(reloaded)

	assert.NotSame(t, before, app.controller.Load())
	assert.Equal(t, 40, app.cfg.Workflow.MaxSteps)
	assert.Equal(t, config.BackendMemory, app.cfg.Storage.Backend, "storage is fixed at startup")
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestImportProject_RequiresID(t *testing.T) {
	app := startMemoryApp(t, memoryConfig(t), WithClient(&testutil.MockLLMClient{}))
	require.Error(t, app.ImportProject(context.Background(), &storage.Project{Name: "No ID"}))
}

func TestReadProject(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "project.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{
		"id": "proj-9",
		"name": "Cold Storage",
		"specs": {"occupancy": "S-2"},
		"images": [{"id": "img-1", "url": "https://img.example/1.jpg"}]
	}`), 0o644))

	p, err := readProject(valid)
	require.NoError(t, err)
	assert.Equal(t, "proj-9", p.ID)
	assert.Equal(t, "S-2", p.Specs["occupancy"])
	require.Len(t, p.Images, 1)

	noID := filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(noID, []byte(`{"name": "x"}`), 0o644))
	_, err = readProject(noID)
	require.Error(t, err)

	_, err = readProject(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestRootCmd_Version(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "reportgen version 0.1.0 (build: dev)\n", out.String())
}

func TestAppStartStop_EmbeddedNATS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Knowledge.Root = t.TempDir()
	cfg.NATS.StoreDir = t.TempDir()

	app, err := NewApp(cfg, slog.Default(), WithClient(&testutil.MockLLMClient{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	assert.NotNil(t, app.natsConn)
	assert.NotNil(t, app.js)
	assert.NotNil(t, app.store)
	require.NotNil(t, app.embeddedServer)

	app.Shutdown()
	assert.False(t, app.embeddedServer.Running(), "embedded server still running after shutdown")
}

func TestWrapNATSError(t *testing.T) {
	err := wrapNATSError(assert.AnError, "nats://x:4222")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotContains(t, err.Error(), "docker compose")

	refused := wrapNATSError(errors.New("dial tcp: connection refused"), "nats://x:4222")
	assert.Contains(t, refused.Error(), "docker compose")
	assert.Contains(t, refused.Error(), "nats://x:4222")
}
