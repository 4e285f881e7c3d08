package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yashp387/DigitalDump-sub001/pkg/collectapi"
)

type client struct {
	baseURL string
	token   string
	actorID string
	role    string
	http    *http.Client
}

// apiError is a non-2xx reply decoded from the server's error body.
type apiError struct {
	Status int
	Body   collectapi.ErrorResponse
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%d %s", e.Status, e.Body.Error)
	if e.Body.Code != "" {
		msg += " [" + e.Body.Code + "]"
	}
	if e.Body.Reason != "" {
		msg += ": " + e.Body.Reason
	}
	return msg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *client) do(method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, strings.TrimRight(c.baseURL, "/")+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("X-Actor-ID", c.actorID)
		req.Header.Set("X-Actor-Role", c.role)
	}
	hc := c.http
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &apiErr.Body) != nil {
			apiErr.Body.Error = strings.TrimSpace(string(b))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err = io.Copy(w, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) postJSON(path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(http.MethodPost, path, "application/json", body, out)
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, "", nil, out)
}
