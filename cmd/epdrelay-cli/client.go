package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// relayClient speaks the relay's HTTP API.
type relayClient struct {
	base string
	http *http.Client
}

func newRelayClient(base string) *relayClient {
	return &relayClient{base: strings.TrimRight(base, "/"), http: http.DefaultClient}
}

type apiError struct {
	Status     int
	Message    string
	RetryAfter int64
}

func (e *apiError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%d %s (retry after %dms)", e.Status, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

type receipt struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Device      string `json:"deviceIp"`
	QueueLength *int   `json:"queueLength"`
}

type deviceInfo struct {
	IP          string `json:"ip"`
	Active      bool   `json:"active"`
	LastFetch   *int64 `json:"lastFetch"`
	Status      string `json:"status"`
	LastSeen    string `json:"lastSeen"`
	Online      bool   `json:"online"`
	Discovery   string `json:"discovery"`
	QueueLength int    `json:"queueLength"`
}

type queueItem struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	TextSize string `json:"textSize,omitempty"`
}

func (c *relayClient) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *relayClient) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// sendImage uploads path as the image part. The content type is sniffed
// from the file so the relay can reject unsupported formats early.
func (c *relayClient) sendImage(ctx context.Context, path, device string) (receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return receipt{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if device != "" {
		if err := mw.WriteField("deviceIp", device); err != nil {
			return receipt{}, err
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", http.DetectContentType(data))
	part, err := mw.CreatePart(header)
	if err != nil {
		return receipt{}, err
	}
	if _, err := part.Write(data); err != nil {
		return receipt{}, err
	}
	if err := mw.Close(); err != nil {
		return receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/send-image", &buf)
	if err != nil {
		return receipt{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out receipt
	if err := c.do(req, &out); err != nil {
		return receipt{}, err
	}
	return out, nil
}

func (c *relayClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error      string `json:"error"`
			RetryAfter int64  `json:"retryAfter"`
		}
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.RetryAfter = payload.RetryAfter
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
