package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("gcs: object not found")

// ObjectInfo is the subset of object metadata the pipeline cares about.
type ObjectInfo struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size,string"`
	MD5Hash     string `json:"md5Hash"`
}

// Upload streams body into the bucket under the given object name and returns
// the public URL. Existing objects with the same name are overwritten, which
// makes uploads keyed by content hash naturally idempotent.
func (c *Client) Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error) {
	if c == nil {
		return "", errors.New("gcs client not initialized")
	}
	if strings.TrimSpace(object) == "" {
		return "", errors.New("object name is required")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf(
		"%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		c.apiBase,
		url.PathEscape(c.bucket),
		url.QueryEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError("upload", object, resp)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	return c.PublicURL(object), nil
}

// Download fetches the object contents. The caller owns the returned reader.
func (c *Client) Download(ctx context.Context, object string) (io.ReadCloser, error) {
	if c == nil {
		return nil, errors.New("gcs client not initialized")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		c.apiBase,
		url.PathEscape(c.bucket),
		url.PathEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.apiError("download", object, resp)
	}

	return resp.Body, nil
}

// Stat returns object metadata without downloading the contents, or
// ErrObjectNotFound. Content-addressed callers use it to detect duplicates
// before uploading.
func (c *Client) Stat(ctx context.Context, object string) (*ObjectInfo, error) {
	if c == nil {
		return nil, errors.New("gcs client not initialized")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		c.apiBase,
		url.PathEscape(c.bucket),
		url.PathEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError("stat", object, resp)
	}

	var info ObjectInfo
	if err := decodeJSON(resp.Body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (c *Client) Delete(ctx context.Context, object string) error {
	if c == nil {
		return errors.New("gcs client not initialized")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		c.apiBase,
		url.PathEscape(c.bucket),
		url.PathEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.apiError("delete", object, resp)
	}
}

func (c *Client) apiError(op, object string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if len(b) > 0 {
		return fmt.Errorf("gcs %s %q failed: %s: %s", op, object, resp.Status, strings.TrimSpace(string(b)))
	}
	return fmt.Errorf("gcs %s %q failed: %s", op, object, resp.Status)
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(v)
}

// newTestClient wires a client against a fake storage endpoint.
func newTestClient(bucket, apiBase string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		bucket:      bucket,
		publicBase:  apiBase,
		apiBase:     apiBase,
		tokenSource: staticTokenSource("test-token"),
	}
}
