package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPDirectory resolves ids against an identity-resolution endpoint:
// POST base URL with {"ids": [...]}, response {"names": {id: name}}.
type HTTPDirectory struct {
	url    string
	client *http.Client
}

func NewHTTPDirectory(url string) *HTTPDirectory {
	return &HTTPDirectory{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

type lookupResponse struct {
	Names map[string]string `json:"names"`
}

func (d *HTTPDirectory) Lookup(ctx context.Context, ids []string) (map[string]string, error) {
	body, err := json.Marshal(lookupRequest{IDs: ids})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory lookup: status %d", resp.StatusCode)
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}
	return out.Names, nil
}
