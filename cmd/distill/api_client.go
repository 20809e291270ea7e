package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"distill/internal/task"
)

// apiClient is a thin HTTP wrapper around the api service endpoints.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) startStage1(sourceRef, modelName string) (task.Summary, error) {
	var resp struct {
		Task task.Summary `json:"task"`
	}
	body := map[string]string{"source_ref": sourceRef, "model_name": modelName}
	err := c.do(http.MethodPost, "/api/tasks/stage1", body, &resp)
	return resp.Task, err
}

func (c *apiClient) startStage2(taskID string) (task.Summary, error) {
	var resp struct {
		Task task.Summary `json:"task"`
	}
	err := c.do(http.MethodPost, "/api/tasks/"+taskID+"/stage2", nil, &resp)
	return resp.Task, err
}

func (c *apiClient) listTasks() ([]task.Summary, error) {
	var resp struct {
		Tasks []task.Summary `json:"tasks"`
	}
	err := c.do(http.MethodGet, "/api/tasks", nil, &resp)
	return resp.Tasks, err
}

func (c *apiClient) stage1Output(taskID string) (string, error) {
	var resp struct {
		TaskID    string `json:"task_id"`
		OutputRef string `json:"output_ref"`
	}
	err := c.do(http.MethodGet, "/api/tasks/"+taskID+"/stage1-output", nil, &resp)
	return resp.OutputRef, err
}

func (c *apiClient) resetStuck() (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	err := c.do(http.MethodPost, "/api/tasks/reset-stuck", nil, &resp)
	return resp.Updated, err
}

func (c *apiClient) health() (task.Stats, error) {
	var resp struct {
		Status string     `json:"status"`
		Stats  task.Stats `json:"stats"`
	}
	err := c.do(http.MethodGet, "/api/health", nil, &resp)
	return resp.Stats, err
}

// eventsURL returns the websocket endpoint for the push channel.
func (c *apiClient) eventsURL() string {
	url := c.baseURL + "/api/events"
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapConnectError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Code != "" {
		if body.Error.Message != "" {
			return fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message)
		}
		return errors.New(body.Error.Code)
	}
	return fmt.Errorf("api returned %s", resp.Status)
}

func wrapConnectError(err error, base string) error {
	var netErr *net.OpError
	if errors.As(err, &netErr) && errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to api service at %s: connection refused; start the services with `distilld`", base)
	}
	return fmt.Errorf("connect to api service: %w", err)
}
