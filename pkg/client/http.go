package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// HTTPOptions configures the HTTP client.
type HTTPOptions struct {
	// RetryMax bounds retries of requests that failed to connect or found the
	// store unavailable.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// HTTPClient calls the synchronous transport on behalf of one stage.
type HTTPClient struct {
	baseURL string
	stage   string
	client  *retryablehttp.Client
}

// NewHTTPClient creates a client for stage against the service at baseURL.
func NewHTTPClient(baseURL, stage string, opts HTTPOptions) (*HTTPClient, error) {
	if !model.CheckStageName(stage) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStage, stage)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{baseURL: baseURL, stage: stage, client: rc}, nil
}

// retryPolicy retries connection failures and 503, never other statuses. A
// claim answered with 500 may have been applied and must not be repeated.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return resp.StatusCode == http.StatusServiceUnavailable, nil
}

func (c *HTTPClient) endpoint(path string, withStage bool) string {
	u := c.baseURL + path
	if withStage {
		u += "?stage=" + url.QueryEscape(c.stage)
	}
	return u
}

// do sends the request. The returned body is nil only for 204 No Content.
func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte, header http.Header) ([]byte, http.Header, error) {
	var raw interface{}
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, raw)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, resp.Header, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, resp.Header, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return nil, nil, apiErr
}

func (c *HTTPClient) document(ctx context.Context, path string, body []byte) (*model.Document, error) {
	data, _, err := c.do(ctx, http.MethodPost, c.endpoint(path, true), body, nil)
	if err != nil || data == nil {
		return nil, err
	}
	return model.ParseDocument(data)
}

// Claim fetches and claims a document matching q, or returns nil.
func (c *HTTPClient) Claim(ctx context.Context, q model.Query) (*model.Document, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return c.document(ctx, "/v1/documents/claim", body)
}

// Fetch returns a document matching q without claiming it.
func (c *HTTPClient) Fetch(ctx context.Context, q model.Query) (*model.Document, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return c.document(ctx, "/v1/documents/fetch", body)
}

// Write inserts doc when it has no id and saves it otherwise.
func (c *HTTPClient) Write(ctx context.Context, doc *model.Document) (*model.Document, error) {
	body, err := doc.JSON()
	if err != nil {
		return nil, err
	}
	return c.document(ctx, "/v1/documents/write", body)
}

// Mark reports outcome for doc. False means no matching document.
func (c *HTTPClient) Mark(ctx context.Context, doc *model.Document, outcome model.Status) (bool, error) {
	if !outcome.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", model.ErrMalformedInput, outcome)
	}
	body, err := doc.JSON()
	if err != nil {
		return false, err
	}
	path := "/v1/documents/" + markPath(outcome)
	data, _, err := c.do(ctx, http.MethodPost, c.endpoint(path, true), body, nil)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

func markPath(s model.Status) string {
	switch s {
	case model.StatusPending:
		return "pending"
	case model.StatusProcessed:
		return "processed"
	case model.StatusFailed:
		return "failed"
	default:
		return "discarded"
	}
}

func filePath(docID, name string) string {
	p := "/v1/documents/" + url.PathEscape(docID) + "/files"
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}

// FileNames lists the attachments of a document.
func (c *HTTPClient) FileNames(ctx context.Context, docID string) ([]string, error) {
	data, _, err := c.do(ctx, http.MethodGet, c.endpoint(filePath(docID, ""), false), nil, nil)
	if err != nil {
		return nil, err
	}
	names := []string{}
	if data != nil {
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// GetFile returns an attachment or nil.
func (c *HTTPClient) GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error) {
	data, header, err := c.do(ctx, http.MethodGet, c.endpoint(filePath(docID, name), false), nil, nil)
	if err != nil || data == nil {
		return nil, err
	}
	return &model.DocumentFile{
		DocumentID: docID,
		Name:       name,
		Encoding:   header.Get("X-File-Encoding"),
		MimeType:   header.Get("Content-Type"),
		Data:       data,
	}, nil
}

// SaveFile stores an attachment, replacing any file of the same name.
func (c *HTTPClient) SaveFile(ctx context.Context, file *model.DocumentFile) error {
	header := http.Header{}
	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	if file.Encoding != "" {
		header.Set("X-File-Encoding", file.Encoding)
	}
	data := file.Data
	if data == nil {
		data = []byte{}
	}
	_, _, err := c.do(ctx, http.MethodPut, c.endpoint(filePath(file.DocumentID, file.Name), false), data, header)
	return err
}

// DeleteFile removes an attachment. False means it did not exist.
func (c *HTTPClient) DeleteFile(ctx context.Context, docID, name string) (bool, error) {
	data, _, err := c.do(ctx, http.MethodDelete, c.endpoint(filePath(docID, name), false), nil, nil)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// Stage returns the definition of the client's own stage, or nil.
func (c *HTTPClient) Stage(ctx context.Context) (*model.Stage, error) {
	data, _, err := c.do(ctx, http.MethodGet, c.endpoint("/v1/stages/"+url.PathEscape(c.stage), false), nil, nil)
	if err != nil || data == nil {
		return nil, err
	}
	var stage model.Stage
	if err := json.Unmarshal(data, &stage); err != nil {
		return nil, err
	}
	return &stage, nil
}
