package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"statusfeed/internal/domain"
)

// HTTPRepository writes records to the external tenant repository:
// POST base URL with the record, response {"key": {...}} on success.
type HTTPRepository struct {
	url    string
	client *http.Client
}

func NewHTTPRepository(url string) *HTTPRepository {
	return &HTTPRepository{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type wirePut struct {
	TenantID   string `json:"tenantId"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	Payload    struct {
		Status    string `json:"status"`
		CreatedAt string `json:"createdAt"`
	} `json:"payload"`
}

type wirePutResponse struct {
	Key struct {
		TenantID   string `json:"tenantId"`
		Collection string `json:"collection"`
		RKey       string `json:"rkey"`
	} `json:"key"`
}

func (r *HTTPRepository) PutRecord(ctx context.Context, req PutRecordRequest) (PutRecordResponse, error) {
	var out wirePut
	out.TenantID = req.TenantID
	out.Collection = req.Collection
	out.RKey = req.RKey
	out.Payload.Status = req.Payload.Status
	out.Payload.CreatedAt = req.Payload.CreatedAt

	body, err := json.Marshal(out)
	if err != nil {
		return PutRecordResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return PutRecordResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return PutRecordResponse{}, fmt.Errorf("put record: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return PutRecordResponse{}, fmt.Errorf("put record: status %d", resp.StatusCode)
	}

	var decoded wirePutResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PutRecordResponse{}, fmt.Errorf("decode put response: %w", err)
	}
	key := domain.RecordKey{
		TenantID:   decoded.Key.TenantID,
		Collection: decoded.Key.Collection,
		RKey:       decoded.Key.RKey,
	}
	if key.TenantID == "" || key.Collection == "" || key.RKey == "" {
		return PutRecordResponse{}, fmt.Errorf("put record: incomplete key in response")
	}
	return PutRecordResponse{Key: key}, nil
}
