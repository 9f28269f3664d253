package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/officebridge/fieldsync/internal/types"
)

// Transport is the remote contract the sync engine drives. Authentication
// token and endpoint resolution are supplied by the caller and opaque here.
type Transport interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, collection string, rec *types.Record, mutationKey string) (string, error)
	Update(ctx context.Context, collection, id string, rec *types.Record, mutationKey string) error
	Delete(ctx context.Context, collection, id string, deletedAt time.Time, mutationKey string) error
	List(ctx context.Context, collection string) ([]*types.Record, error)
}

// RemoteError is a non-2xx response from the hub. Statuses below 500 are
// remote rejections: retried up to the budget, then dead-lettered for a
// human, never silently dropped.
type RemoteError struct {
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Detail)
}

// IsTransient reports whether err should be treated as a transient
// transport failure. Network errors and timeouts have no RemoteError and
// are transient; 5xx responses are transient; 4xx rejections are not.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500
	}
	return true
}

// HTTPTransport talks to the office hub's record API.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTransport creates a transport for the hub at baseURL. Every call
// is bounded by timeout; a timeout is indistinguishable from any other
// network failure.
func NewHTTPTransport(baseURL, token string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ping checks hub reachability via the public health endpoint.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	resp, err := t.send(ctx, http.MethodGet, "/api/v1/health", "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Create pushes a create mutation and returns the remote id.
func (t *HTTPTransport) Create(ctx context.Context, collection string, rec *types.Record, mutationKey string) (string, error) {
	path := fmt.Sprintf("/api/v1/collections/%s/records", collection)
	resp, err := t.send(ctx, http.MethodPost, path, mutationKey, rec)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return body.ID, nil
}

// Update pushes an update mutation.
func (t *HTTPTransport) Update(ctx context.Context, collection, id string, rec *types.Record, mutationKey string) error {
	path := fmt.Sprintf("/api/v1/collections/%s/records/%s", collection, id)
	resp, err := t.send(ctx, http.MethodPut, path, mutationKey, rec)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete pushes a delete mutation. The tombstone's timestamp travels as a
// query parameter so the hub can rank the delete against concurrent edits
// instead of stamping its own clock.
func (t *HTTPTransport) Delete(ctx context.Context, collection, id string, deletedAt time.Time, mutationKey string) error {
	path := fmt.Sprintf("/api/v1/collections/%s/records/%s", collection, id)
	if !deletedAt.IsZero() {
		path += "?updated_at=" + url.QueryEscape(deletedAt.UTC().Format(time.RFC3339Nano))
	}
	resp, err := t.send(ctx, http.MethodDelete, path, mutationKey, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// List fetches the collection's current remote record set, tombstones
// included, with their updated_at timestamps.
func (t *HTTPTransport) List(ctx context.Context, collection string) ([]*types.Record, error) {
	path := fmt.Sprintf("/api/v1/collections/%s/records", collection)
	resp, err := t.send(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Records []*types.Record `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return body.Records, nil
}

// send issues an authenticated request and converts non-2xx statuses into
// RemoteError. The caller owns the response body on success.
func (t *HTTPTransport) send(ctx context.Context, method, path, mutationKey string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")
	if mutationKey != "" {
		req.Header.Set("Idempotency-Key", mutationKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := readProblemDetail(resp.Body)
		resp.Body.Close()
		return nil, &RemoteError{Status: resp.StatusCode, Detail: detail}
	}
	return resp, nil
}

// readProblemDetail extracts the detail field from an RFC 7807 body, or
// returns the raw text when the body is not a problem document.
func readProblemDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var p struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &p) == nil && p.Detail != "" {
		return p.Detail
	}
	return string(raw)
}
