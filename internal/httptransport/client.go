package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridiansync/syncd/internal/syncengine"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultHealthTimeout  = 5 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the sync server's address, e.g. "https://sync.example.com".
	// Pull/Push/IsOnline are issued against BaseURL + "/sync/pull", etc.
	BaseURL string
	// APIKey, when non-empty, is sent as "Authorization: Bearer <APIKey>".
	APIKey string
	// ExtraHeaders are added to every request, after Authorization.
	ExtraHeaders map[string]string
	// RequestTimeout bounds Pull and Push; defaults to 30s.
	RequestTimeout time.Duration
	// HealthTimeout bounds IsOnline; defaults to 5s, deliberately shorter so
	// an online probe never stalls behind a slow sync endpoint.
	HealthTimeout time.Duration
	Logger        *zap.Logger
}

// Client is the reference syncengine.Transport[T] implementation, speaking
// the wire format this package defines over plain HTTP.
type Client[T any] struct {
	baseURL      string
	apiKey       string
	extraHeaders map[string]string
	httpClient   *http.Client
	healthClient *http.Client
	logger       *zap.Logger
}

// NewClient constructs a Client from cfg.
func NewClient[T any](cfg ClientConfig) *Client[T] {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client[T]{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		extraHeaders: cfg.ExtraHeaders,
		httpClient:   &http.Client{Timeout: requestTimeout},
		healthClient: &http.Client{Timeout: healthTimeout},
		logger:       logger,
	}
}

func (client *Client[T]) applyHeaders(req *http.Request) {
	if client.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+client.apiKey)
	}
	for key, value := range client.extraHeaders {
		req.Header.Set(key, value)
	}
}

// Pull issues GET {baseURL}/sync/pull?since={ts}.
func (client *Client[T]) Pull(ctx context.Context, since syncengine.Timestamp) (syncengine.PullResult[T], error) {
	url := fmt.Sprintf("%s/sync/pull?since=%d", client.baseURL, int64(since))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return syncengine.PullResult[T]{}, err
	}
	client.applyHeaders(req)

	resp, err := client.httpClient.Do(req)
	if err != nil {
		client.logger.Warn("pull request failed", zap.Error(err))
		return syncengine.PullResult[T]{Success: false, Error: err}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncengine.PullResult[T]{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return syncengine.PullResult[T]{Success: false, Error: fmt.Errorf("pull: unexpected status %d: %s", resp.StatusCode, string(body))}, nil
	}

	var payload pullResponsePayload[T]
	if err := json.Unmarshal(body, &payload); err != nil {
		return syncengine.PullResult[T]{}, err
	}

	changes := make([]syncengine.ChangeRecord[T], len(payload.Changes))
	for i, change := range payload.Changes {
		changes[i] = fromWireChangeRecord(change)
	}
	result := syncengine.PullResult[T]{
		Success:   payload.Success,
		Changes:   changes,
		Timestamp: syncengine.Timestamp(payload.Timestamp),
	}
	if payload.Error != "" {
		result.Error = errors.New(payload.Error)
	}
	return result, nil
}

// Push issues POST {baseURL}/sync/push with batch as the JSON body.
func (client *Client[T]) Push(ctx context.Context, batch syncengine.ChangeBatch[T]) (syncengine.PushResult[T], error) {
	encoded, err := json.Marshal(toWireChangeBatch(batch))
	if err != nil {
		return syncengine.PushResult[T]{}, err
	}

	url := client.baseURL + "/sync/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return syncengine.PushResult[T]{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	client.applyHeaders(req)

	resp, err := client.httpClient.Do(req)
	if err != nil {
		client.logger.Warn("push request failed", zap.Error(err))
		return syncengine.PushResult[T]{Success: false, Error: err}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncengine.PushResult[T]{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return syncengine.PushResult[T]{Success: false, Error: fmt.Errorf("push: unexpected status %d: %s", resp.StatusCode, string(body))}, nil
	}

	var payload pushResponsePayload[T]
	if err := json.Unmarshal(body, &payload); err != nil {
		return syncengine.PushResult[T]{}, err
	}

	conflicts := make([]syncengine.ConflictInfo[T], len(payload.Conflicts))
	for i, conflict := range payload.Conflicts {
		conflicts[i] = fromWireConflictInfo(conflict)
	}
	var timestamp *syncengine.Timestamp
	if payload.Timestamp != nil {
		value := syncengine.Timestamp(*payload.Timestamp)
		timestamp = &value
	}
	result := syncengine.PushResult[T]{
		Success:   payload.Success,
		Conflicts: conflicts,
		Timestamp: timestamp,
	}
	if payload.Error != "" {
		result.Error = errors.New(payload.Error)
	}
	return result, nil
}

// IsOnline issues GET {baseURL}/health and treats any 2xx response as online.
func (client *Client[T]) IsOnline(ctx context.Context) (bool, error) {
	url := client.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	client.applyHeaders(req)

	resp, err := client.healthClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
