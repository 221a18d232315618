package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/config"
	"mediaforge/storage"
	"mediaforge/store/memory"
	"mediaforge/task"
)

// storeCanceller cancels through the repository alone; the dispatcher's
// process signalling is covered by its own tests.
type storeCanceller struct {
	repo task.Repository
}

func (s storeCanceller) Cancel(ctx context.Context, id string) error {
	return s.repo.Cancel(ctx, id)
}

type testEnv struct {
	router    *gin.Engine
	cfg       *config.Config
	repo      *memory.Store
	filesRoot string
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	filesRoot := t.TempDir()
	files, err := storage.NewLocal(filesRoot, "http://cdn.local", 0)
	require.NoError(t, err)

	repo := memory.New()
	cfg := &config.Config{AuthEnable: false}
	h := NewHandler(repo, storeCanceller{repo: repo}, files, cfg)
	return &testEnv{
		router:    SetupRouter(h, cfg),
		cfg:       cfg,
		repo:      repo,
		filesRoot: filesRoot,
	}
}

const validTaskBody = `{
	"type": "text-overlay",
	"textOverlay": {
		"text": "hello",
		"position": {"x": 10, "y": 20},
		"style": {"fontSize": 32, "color": "FFFFFF", "alpha": 1}
	},
	"inputRefs": ["in.mp4"]
}`

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleCreateTask(t *testing.T) {
	t.Run("accepts a valid task", func(t *testing.T) {
		env := setupTestRouter(t)

		w := postJSON(env.router, "/api/v1/tasks", validTaskBody)
		assert.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp["taskId"])

		created, err := env.repo.Get(context.Background(), resp["taskId"])
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, created.Status)
		assert.Equal(t, []string{"in.mp4"}, created.InputRefs)
	})

	t.Run("rejects an invalid config without creating a task", func(t *testing.T) {
		env := setupTestRouter(t)

		body := `{
			"type": "text-overlay",
			"textOverlay": {
				"text": "hello",
				"position": {"x": 10, "y": 20},
				"style": {"fontSize": 32, "color": "nothex", "alpha": 1}
			},
			"inputRefs": ["in.mp4"]
		}`
		w := postJSON(env.router, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid operation")
		assert.Contains(t, w.Body.String(), "color")

		tasks, err := env.repo.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("rejects a mismatched input count", func(t *testing.T) {
		env := setupTestRouter(t)

		body := `{"type": "join", "join": {}, "inputRefs": ["only.mp4"]}`
		w := postJSON(env.router, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid operation")
	})

	t.Run("rejects missing input refs", func(t *testing.T) {
		env := setupTestRouter(t)

		body := `{"type": "text-overlay", "textOverlay": {"text": "x", "position": {"x": 0, "y": 0}, "style": {"fontSize": 32, "color": "FFFFFF", "alpha": 1}}}`
		w := postJSON(env.router, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		env := setupTestRouter(t)

		w := postJSON(env.router, "/api/v1/tasks", `{"type": `)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetTaskStatus(t *testing.T) {
	env := setupTestRouter(t)

	w := postJSON(env.router, "/api/v1/tasks", validTaskBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["taskId"]

	ctx := context.Background()
	claimed, err := env.repo.ClaimNext(ctx, "worker-test")
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)
	require.NoError(t, env.repo.Complete(ctx, id, task.Result{
		OutputRef:   id + ".mp4",
		DownloadURL: "http://cdn.local/api/v1/files/" + id + ".mp4",
		Stages:      1,
		Elapsed:     1.5,
	}))

	w = httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/tasks/"+id, nil)
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, float64(100), got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, id+".mp4", got.Result.OutputRef)
	assert.Contains(t, got.Result.DownloadURL, "/api/v1/files/")
	assert.Empty(t, got.ErrorMessage)

	// Test Not Found
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/tasks/nonexistent", nil)
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetTaskLog(t *testing.T) {
	env := setupTestRouter(t)

	w := postJSON(env.router, "/api/v1/tasks", validTaskBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["taskId"]

	ctx := context.Background()
	require.NoError(t, env.repo.AppendLog(ctx, task.LogEntry{TaskID: id, StageIndex: 0, StageKind: "drawtext", Success: true}))
	require.NoError(t, env.repo.AppendLog(ctx, task.LogEntry{TaskID: id, StageIndex: 1, StageKind: "subtitles", Success: false, ErrorDetail: "boom"}))

	w = httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/tasks/"+id+"/log", nil)
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TaskID  string          `json:"taskId"`
		Entries []task.LogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.TaskID)
	require.Len(t, resp.Entries, 2)
	assert.True(t, resp.Entries[0].Success)
	assert.Equal(t, "boom", resp.Entries[1].ErrorDetail)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/tasks/nonexistent/log", nil)
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCancelTask(t *testing.T) {
	t.Run("cancels a queued task", func(t *testing.T) {
		env := setupTestRouter(t)

		w := postJSON(env.router, "/api/v1/tasks", validTaskBody)
		require.Equal(t, http.StatusAccepted, w.Code)
		var created map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		id := created["taskId"]

		w = httptest.NewRecorder()
		req, _ := http.NewRequest("PATCH", "/api/v1/tasks/"+id+"/cancel", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		got, err := env.repo.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCancelled, got.Status)
	})

	t.Run("refuses to cancel a settled task", func(t *testing.T) {
		env := setupTestRouter(t)

		w := postJSON(env.router, "/api/v1/tasks", validTaskBody)
		require.Equal(t, http.StatusAccepted, w.Code)
		var created map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		id := created["taskId"]

		ctx := context.Background()
		_, err := env.repo.ClaimNext(ctx, "worker-test")
		require.NoError(t, err)
		require.NoError(t, env.repo.Fail(ctx, id, "engine failed"))

		w = httptest.NewRecorder()
		req, _ := http.NewRequest("PATCH", "/api/v1/tasks/"+id+"/cancel", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		env := setupTestRouter(t)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("PATCH", "/api/v1/tasks/nonexistent/cancel", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleGetFile(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.filesRoot, "out.mp4"), []byte("media bytes"), 0o644))

	t.Run("serves a stored file", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/files/out.mp4", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "media bytes", w.Body.String())
	})

	t.Run("missing file", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/files/ghost.mp4", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("path traversal is stripped", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/files/..%2F..%2Fetc%2Fpasswd", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestRouter(t)

	t.Run("Auth disabled", func(t *testing.T) {
		env.cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		env.cfg.AuthEnable = true
		env.cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		env.cfg.AuthEnable = true
		env.cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		env.cfg.AuthEnable = true
		env.cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer secret")
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
