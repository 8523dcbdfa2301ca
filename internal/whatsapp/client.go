package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://graph.facebook.com/v18.0"

// MediaFetcher downloads webhook-referenced media. The bill server depends
// on this interface so tests can substitute a fake.
type MediaFetcher interface {
	// FetchMedia resolves a media ID to its bytes and MIME type
	FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Client is a minimal WhatsApp Graph API media client.
type Client struct {
	apiBase     string
	accessToken string
	client      *http.Client
}

// NewClient creates a Graph API client. apiBase may be empty to use the
// production endpoint; tests point it at an httptest server.
func NewClient(accessToken, apiBase string) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		apiBase:     apiBase,
		accessToken: accessToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// mediaInfo is the Graph API media lookup response.
type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// FetchMedia resolves a media ID to a download URL and fetches the bytes.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	info, err := c.mediaURL(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}

	data, err := c.download(ctx, info.URL)
	if err != nil {
		return nil, "", err
	}

	return data, info.MimeType, nil
}

func (c *Client) mediaURL(ctx context.Context, mediaID string) (*mediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/%s", c.apiBase, mediaID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching media url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("media lookup failed (status %d): %s", resp.StatusCode, string(body))
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding media info: %w", err)
	}
	return &info, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download failed (status %d)", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
