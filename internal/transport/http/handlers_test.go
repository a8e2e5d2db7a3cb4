package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blakecragen/cluster/internal/config"
	"github.com/blakecragen/cluster/internal/dispatch"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/registry"
	"github.com/blakecragen/cluster/internal/storage"
	"github.com/blakecragen/cluster/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	engine := dispatch.NewEngine(store.NewMemJobStore(), store.NewMemQueueSet(), blobs)
	reg := registry.New(store.NewMemWorkerStore(), 30*time.Second)

	h := &Handlers{
		Engine:   engine,
		Registry: reg,
		Blobs:    blobs,
		Config:   config.Config{UploadRateLimit: 100},
	}
	r := chi.NewRouter()
	h.Routers(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func uploadFile(t *testing.T, srv *httptest.Server, priority string) job.Job {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "task.zip")
	require.NoError(t, err)
	_, err = part.Write([]byte("job payload"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("priority", priority))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var j job.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	return j
}

func TestUpload_CreatesQueuedJob(t *testing.T) {
	srv := newTestServer(t)

	j := uploadFile(t, srv, "0")
	require.Equal(t, job.StatusQueued, j.Status)
	require.Equal(t, job.PriorityHigh, j.Priority)
	require.NotEmpty(t, j.InputRef)
}

func TestUpload_RejectsBadPriority(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "task.zip")
	require.NoError(t, err)
	_, err = part.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("priority", "9"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_RejectsMissingFile(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("priority", "1"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClaim_EmptyQueueReturnsMessage(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/claim_job", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "No jobs in any queue", body["message"])
}

func TestClaim_ReturnsClaimedJob(t *testing.T) {
	srv := newTestServer(t)
	submitted := uploadFile(t, srv, "1")

	resp, err := http.Post(srv.URL+"/claim_job", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var j job.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	require.Equal(t, submitted.ID, j.ID)
	require.Equal(t, job.StatusClaimed, j.Status)
	// the recorded address is the bare IP, not ip:ephemeral-port
	require.Equal(t, "127.0.0.1", j.ClaimedBy)
}

func TestUploadResultAndDownload(t *testing.T) {
	srv := newTestServer(t)
	submitted := uploadFile(t, srv, "1")

	resp, err := http.Post(srv.URL+"/claim_job", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "result.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("all done"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err = http.Post(srv.URL+"/upload_result/"+submitted.ID.String(), mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.NotEmpty(t, ack["result_ref"])

	dl, err := http.Get(srv.URL + "/download_result/" + submitted.ID.String())
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	require.Contains(t, dl.Header.Get("Content-Disposition"), "attachment")

	var out bytes.Buffer
	_, err = out.ReadFrom(dl.Body)
	require.NoError(t, err)
	require.Equal(t, "all done", out.String())
}

func TestMarkCollected_InvalidStateOnQueuedJob(t *testing.T) {
	srv := newTestServer(t)
	submitted := uploadFile(t, srv, "2")

	resp, err := http.Post(srv.URL+"/mark_collected/"+submitted.ID.String(), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkCollected_UnknownJobIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/mark_collected/1b4e28ba-2fa1-11d2-883f-0016d3cca427", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteJob_RemovesFromQueue(t *testing.T) {
	srv := newTestServer(t)
	submitted := uploadFile(t, srv, "1")

	resp, err := http.Post(srv.URL+"/delete_job/"+submitted.ID.String(), "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the queue no longer hands it out
	resp, err = http.Post(srv.URL+"/claim_job", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["message"])
}

func TestRegisterWorker_Validation(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/register_worker", "application/json",
		strings.NewReader(`{"hostname": "pi-01"}`)) // missing worker_id
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkerLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/register_worker", "application/json",
		strings.NewReader(`{"worker_id": "pi-01", "hostname": "pi-01", "task_runner": "default"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/heartbeat", "application/json",
		strings.NewReader(`{"worker_id": "pi-01"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/workers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var workers []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&workers))
	require.Len(t, workers, 1)
	require.Equal(t, "pi-01", workers[0]["worker_id"])
}

func TestHeartbeat_UnregisteredIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/heartbeat", "application/json",
		strings.NewReader(`{"worker_id": "ghost"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, StatusHealthy, status.Status)
	require.True(t, status.Storage)
}
