package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"
)

// Client talks to the external analysis service over its REST boundary.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Submit uploads the selected files plus the MoCA and demographic sub-objects
// as multipart form data and returns the created job identifier.
func (c *Client) Submit(ctx context.Context, files []Upload, moca MocaScore, meta Demographics) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to submit")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.Filename)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(file.Content); err != nil {
			return "", err
		}
	}

	mocaJSON, err := json.Marshal(moca)
	if err != nil {
		return "", err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := writer.WriteField("moca", string(mocaJSON)); err != nil {
		return "", err
	}
	if err := writer.WriteField("meta", string(metaJSON)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/submit", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// SubmitDemoHealthy triggers the fixed healthy-subject demo pipeline.
func (c *Client) SubmitDemoHealthy(ctx context.Context) (string, error) {
	return c.submitDemo(ctx, "/api/demo-submit")
}

// SubmitDemoPathology triggers the fixed pathology demo pipeline.
func (c *Client) SubmitDemoPathology(ctx context.Context) (string, error) {
	return c.submitDemo(ctx, "/api/demo-pathology")
}

func (c *Client) submitDemo(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	var resp SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Status fetches the current lifecycle status for a job.
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status/"+jobID, nil)
	if err != nil {
		return JobStatus{}, err
	}
	var status JobStatus
	if err := c.do(req, &status); err != nil {
		return JobStatus{}, err
	}
	if status.JobID == "" {
		status.JobID = jobID
	}
	return status, nil
}

// Result fetches the full result document for a completed job.
func (c *Client) Result(ctx context.Context, jobID string) (ResultEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/result/"+jobID, nil)
	if err != nil {
		return ResultEnvelope{}, err
	}
	var envelope ResultEnvelope
	if err := c.do(req, &envelope); err != nil {
		return ResultEnvelope{}, err
	}
	return envelope, nil
}

// MatchTrials queries the trial-matching endpoint with the patient profile.
func (c *Client) MatchTrials(ctx context.Context, query TrialsQuery) ([]map[string]interface{}, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/trials", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp TrialsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Trials, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("analysis service returned %d for %s: %s", resp.StatusCode, req.URL.Path, bytes.TrimSpace(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}
