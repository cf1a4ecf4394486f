package liveness

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
	"strings"
	"time"
)

// maxErrorBody bounds the response excerpt carried by HTTPError
const maxErrorBody = 512

// HTTPClientConfig contains configuration for the REST adapter
type HTTPClientConfig struct {
	// BaseURL is the service root, e.g. https://api.example.com/v1
	BaseURL string
	// APIToken is sent as a bearer token when set
	APIToken string
	// Timeout bounds each request (ignored when HTTPClient is set)
	Timeout time.Duration
	// HTTPClient overrides the default client
	HTTPClient *http.Client
}

// HTTPClient implements Client over the liveness REST API:
//
//	POST {base}/liveness/images                     multipart: file, subject_id, process
//	POST {base}/liveness/sessions                   {"identifier"}
//	GET  {base}/liveness/sessions/{id}/validation
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

// NewHTTPClient creates the REST adapter
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("liveness: invalid base url %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.APIToken,
		http:  hc,
	}, nil
}

// UploadImage posts the still as multipart form data
func (c *HTTPClient) UploadImage(ctx context.Context, req UploadRequest) (UploadResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("subject_id", req.SubjectID); err != nil {
		return UploadResponse{}, err
	}
	if req.ProcessTag != "" {
		if err := writer.WriteField("process", req.ProcessTag); err != nil {
			return UploadResponse{}, err
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "capture.jpg"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return UploadResponse{}, err
	}
	if _, err := part.Write(req.Image); err != nil {
		return UploadResponse{}, err
	}
	if err := writer.Close(); err != nil {
		return UploadResponse{}, err
	}

	var out UploadResponse
	err = c.do(ctx, http.MethodPost, "/liveness/images", writer.FormDataContentType(), body, &out)
	return out, err
}

// CreateSession creates a session keyed by identifier
func (c *HTTPClient) CreateSession(ctx context.Context, identifier string) (SessionResponse, error) {
	payload, err := json.Marshal(map[string]string{"identifier": identifier})
	if err != nil {
		return SessionResponse{}, err
	}

	var out SessionResponse
	err = c.do(ctx, http.MethodPost, "/liveness/sessions", "application/json", bytes.NewReader(payload), &out)
	return out, err
}

// ValidateSession fetches the session verdict
func (c *HTTPClient) ValidateSession(ctx context.Context, sessionID string) (ValidationResponse, error) {
	var out ValidationResponse
	path := "/liveness/sessions/" + url.PathEscape(sessionID) + "/validation"
	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
