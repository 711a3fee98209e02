package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

// apiClient is a thin HTTP client over the control server's REST surface:
// one struct, one request helper, typed wrapper methods per call, talking
// JSON over a plain TCP loopback connection rather than a unix socket.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	port := dlcore.DefaultSettings().BrowserIntegrationPort
	if v := os.Getenv(dlcore.PortEnv); v != "" {
		fmt.Sscanf(v, "%d", &port)
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return e.Msg }

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to dlmand at %s: %w (is it running?)", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Msg: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) AddDownload(req map[string]any) (*dlcore.Download, error) {
	var d dlcore.Download
	if err := c.do(http.MethodPost, "/api/downloads", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *apiClient) ListDownloads(status string) ([]*dlcore.Download, error) {
	path := "/api/downloads"
	if status != "" {
		path += "?status=" + status
	}
	var out []*dlcore.Download
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) GetDownload(id string) (*dlcore.Download, error) {
	var d dlcore.Download
	if err := c.do(http.MethodGet, "/api/downloads/"+id, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *apiClient) Action(verb, id string) (*dlcore.Download, error) {
	var d dlcore.Download
	if err := c.do(http.MethodPost, "/api/downloads/"+id+"/"+verb, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *apiClient) Remove(id string, deleteFile bool) error {
	path := fmt.Sprintf("/api/downloads/%s?delete_file=%t", id, deleteFile)
	return c.do(http.MethodDelete, path, nil, nil)
}

func (c *apiClient) Queues() ([]*dlcore.Queue, error) {
	var out []*dlcore.Queue
	if err := c.do(http.MethodGet, "/api/queues", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) CreateQueue(q *dlcore.Queue) (*dlcore.Queue, error) {
	var out dlcore.Queue
	if err := c.do(http.MethodPost, "/api/queues", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) DeleteQueue(id string) error {
	return c.do(http.MethodDelete, "/api/queues/"+id, nil, nil)
}

func (c *apiClient) QueueStartStop(id string, start bool) error {
	verb := "stop"
	if start {
		verb = "start"
	}
	return c.do(http.MethodPost, "/api/queues/"+id+"/"+verb, nil, nil)
}

func (c *apiClient) GetSettings() (*dlcore.Settings, error) {
	var st dlcore.Settings
	if err := c.do(http.MethodGet, "/api/settings", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *apiClient) PatchSettings(patch map[string]any) (*dlcore.Settings, error) {
	var st dlcore.Settings
	if err := c.do(http.MethodPatch, "/api/settings", patch, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
