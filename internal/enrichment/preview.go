package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/pkg/sanitize"
)

// StatusError is a non-2xx answer from the preview service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("preview service returned %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same request is pointless.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type previewRequest struct {
	URL string `json:"url"`
}

type previewResponse struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Favicon     *string `json:"favicon"`
}

// PreviewClient calls the external preview service.
type PreviewClient struct {
	url    string
	client *http.Client
}

// NewPreviewClient returns a client whose deadlines come from the request context.
func NewPreviewClient(cfg *config.Enrichment) *PreviewClient {
	return &PreviewClient{url: cfg.PreviewURL, client: &http.Client{}}
}

func (c *PreviewClient) Fetch(ctx context.Context, destination string) (domain.Metadata, error) {
	body, err := json.Marshal(previewRequest{URL: destination})
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to encode preview request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to build preview request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("preview request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Metadata{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out previewResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to decode preview response: %w", err)
	}

	return domain.Metadata{
		Title:       clean(out.Title, 255),
		Description: clean(out.Description, 2000),
		Favicon:     clean(out.Favicon, 2048),
	}, nil
}

func clean(s *string, limit int) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	v = sanitize.Truncate(v, limit)
	return &v
}
