package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"admint/internal/storage"
)

// ReplicateOptions configures the Replicate client.
type ReplicateOptions struct {
	APIToken     string
	BaseURL      string
	HTTPClient   *http.Client
	Store        *storage.FileStore
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// ReplicateClient is a minimal client for the Replicate predictions API:
// create a prediction, poll it to a terminal state, download the output.
type ReplicateClient struct {
	apiToken     string
	baseURL      string
	httpClient   *http.Client
	store        *storage.FileStore
	pollInterval time.Duration
	pollTimeout  time.Duration
}

const (
	replicateDefaultBaseURL = "https://api.replicate.com"
	replicateDefaultPoll    = 3 * time.Second
	replicateDefaultWait    = 15 * time.Minute
)

type replicateCreateRequest struct {
	Input map[string]any `json:"input"`
}

type replicatePrediction struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   string          `json:"error"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

type replicateErrorResponse struct {
	Detail string `json:"detail"`
}

// NewReplicateClient constructs the client with sane defaults.
func NewReplicateClient(opts ReplicateOptions) (*ReplicateClient, error) {
	if opts.APIToken == "" {
		return nil, errors.New("replicate: api token is required")
	}
	if opts.Store == nil {
		return nil, errors.New("replicate: file store is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = replicateDefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = replicateDefaultPoll
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = replicateDefaultWait
	}
	return &ReplicateClient{
		apiToken:     opts.APIToken,
		baseURL:      baseURL,
		httpClient:   client,
		store:        opts.Store,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}, nil
}

// Predict creates a prediction for the named model and polls it until it
// reaches a terminal state.
func (c *ReplicateClient) Predict(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	created, err := c.createPrediction(ctx, model, input)
	if err != nil {
		return nil, err
	}
	pred, err := c.waitPrediction(ctx, model, created)
	if err != nil {
		return nil, err
	}
	outputURL, err := firstOutputURL(pred.Output)
	if err != nil {
		return nil, &ProviderError{Class: ClassProvider, Model: model, Err: err}
	}
	return &Prediction{
		OutputURL:      outputURL,
		PredictSeconds: pred.Metrics.PredictTime,
	}, nil
}

func (c *ReplicateClient) createPrediction(ctx context.Context, model string, input map[string]any) (*replicatePrediction, error) {
	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", c.baseURL, model)
	body, err := json.Marshal(replicateCreateRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Class: ClassConnectivity, Model: model, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, c.statusError(model, resp)
	}
	var pred replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, &ProviderError{Class: ClassProvider, Model: model, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &pred, nil
}

func (c *ReplicateClient) waitPrediction(ctx context.Context, model string, pred *replicatePrediction) (*replicatePrediction, error) {
	deadline := time.Now().Add(c.pollTimeout)
	current := pred
	for {
		switch current.Status {
		case "succeeded":
			return current, nil
		case "failed":
			class := ClassProvider
			if strings.Contains(strings.ToLower(current.Error), "nsfw") || strings.Contains(strings.ToLower(current.Error), "invalid") {
				class = ClassInput
			}
			return nil, &ProviderError{Class: class, Model: model, Err: fmt.Errorf("prediction failed: %s", current.Error)}
		case "canceled":
			return nil, &ProviderError{Class: ClassProvider, Model: model, Err: errors.New("prediction canceled by provider")}
		}
		if time.Now().After(deadline) {
			return nil, &ProviderError{Class: ClassProvider, Model: model, Err: fmt.Errorf("prediction %s timed out after %s", current.ID, c.pollTimeout)}
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return nil, err
		}
		next, err := c.getPrediction(ctx, model, current.ID)
		if err != nil {
			return nil, err
		}
		current = next
	}
}

func (c *ReplicateClient) getPrediction(ctx context.Context, model, id string) (*replicatePrediction, error) {
	endpoint := fmt.Sprintf("%s/v1/predictions/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Class: ClassConnectivity, Model: model, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, c.statusError(model, resp)
	}
	var pred replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, &ProviderError{Class: ClassProvider, Model: model, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &pred, nil
}

// Download fetches the artifact bytes and persists them into the local
// store under key, returning the absolute file path.
func (c *ReplicateClient) Download(ctx context.Context, url, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("replicate: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("replicate: download: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("replicate: download: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("replicate: read artifact: %w", err)
	}
	savedKey, err := c.store.Write(ctx, key, data)
	if err != nil {
		return "", err
	}
	return c.store.Path(savedKey), nil
}

func (c *ReplicateClient) statusError(model string, resp *http.Response) error {
	var detail replicateErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	msg := detail.Detail
	if msg == "" {
		msg = resp.Status
	}
	class := ClassProvider
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		class = ClassRateLimit
	case resp.StatusCode == http.StatusPaymentRequired:
		class = ClassQuota
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		class = ClassInput
	}
	return &ProviderError{Class: class, Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
}

// firstOutputURL extracts the artifact URL from a Replicate output field,
// which may be a bare string or an array of strings depending on the model.
func firstOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("prediction has no output")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}
	return "", fmt.Errorf("unrecognized output shape: %s", truncateRaw(raw))
}

func truncateRaw(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

var _ PredictionClient = (*ReplicateClient)(nil)
