package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/google/uuid"
)

// Client talks to the dispatch master's HTTP API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Register(ctx context.Context, d worker.Descriptor) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, "/register_worker", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register_worker: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	body, err := json.Marshal(worker.HeartbeatRequest{
		WorkerID:      workerID,
		LastHeartbeat: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, "/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return common.ErrNotRegistered
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type claimResponse struct {
	Message string `json:"message"`
	job.Job
}

// Claim asks the master for the next job. ok is false when no work is
// available.
func (c *Client) Claim(ctx context.Context) (*job.Job, bool, error) {
	resp, err := c.post(ctx, "/claim_job", "application/json", nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("claim_job: unexpected status %d", resp.StatusCode)
	}

	var cr claimResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, false, fmt.Errorf("claim_job: decode response: %w", err)
	}
	if cr.Message != "" || cr.ID == uuid.Nil {
		return nil, false, nil
	}
	return &cr.Job, true, nil
}

func (c *Client) UploadResult(ctx context.Context, id uuid.UUID, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := c.post(ctx, "/upload_result/"+id.String(), mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload_result: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.http.Do(req)
}
