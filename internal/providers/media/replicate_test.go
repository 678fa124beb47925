package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"admint/internal/storage"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newReplicateClient(t *testing.T, transport roundTripFunc) *ReplicateClient {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	client, err := NewReplicateClient(ReplicateOptions{
		APIToken:     "token",
		HTTPClient:   &http.Client{Transport: transport},
		Store:        store,
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewReplicateClient returned error: %v", err)
	}
	return client
}

func TestPredictPollsUntilSucceeded(t *testing.T) {
	polls := 0
	client := newReplicateClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodPost {
			return jsonResponse(201, `{"id": "p1", "status": "starting"}`), nil
		}
		polls++
		if polls < 2 {
			return jsonResponse(200, `{"id": "p1", "status": "processing"}`), nil
		}
		return jsonResponse(200, `{"id": "p1", "status": "succeeded", "output": "https://cdn.example.com/out.mp4", "metrics": {"predict_time": 42.5}}`), nil
	})
	pred, err := client.Predict(context.Background(), "owner/model", map[string]any{"prompt": "p"})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if pred.OutputURL != "https://cdn.example.com/out.mp4" {
		t.Fatalf("OutputURL = %q", pred.OutputURL)
	}
	if pred.PredictSeconds != 42.5 {
		t.Fatalf("PredictSeconds = %v, want 42.5", pred.PredictSeconds)
	}
}

func TestPredictRateLimitClassified(t *testing.T) {
	client := newReplicateClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(429, `{"detail": "rate limit exceeded"}`), nil
	})
	_, err := client.Predict(context.Background(), "owner/model", nil)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if Classify(err) != ClassRateLimit {
		t.Fatalf("class = %s, want rate_limit", Classify(err))
	}
}

func TestPredictConnectivityClassified(t *testing.T) {
	client := newReplicateClient(t, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: lookup api.replicate.com: no such host")
	})
	_, err := client.Predict(context.Background(), "owner/model", nil)
	if err == nil {
		t.Fatal("expected connectivity error")
	}
	if Classify(err) != ClassConnectivity {
		t.Fatalf("class = %s, want connectivity", Classify(err))
	}
}

func TestPredictFailedPredictionSurfacesProviderError(t *testing.T) {
	client := newReplicateClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodPost {
			return jsonResponse(201, `{"id": "p1", "status": "failed", "error": "GPU worker crashed"}`), nil
		}
		t.Fatal("unexpected poll")
		return nil, nil
	})
	_, err := client.Predict(context.Background(), "owner/model", nil)
	if err == nil || !strings.Contains(err.Error(), "GPU worker crashed") {
		t.Fatalf("error = %v, want provider failure message", err)
	}
}

func TestDownloadWritesIntoStore(t *testing.T) {
	client := newReplicateClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader("video-bytes")),
		}, nil
	})
	path, err := client.Download(context.Background(), "https://cdn.example.com/out.mp4", "generated/job-1/scene-00.mp4")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if !strings.HasSuffix(path, "generated/job-1/scene-00.mp4") {
		t.Fatalf("path = %q", path)
	}
}

func TestFirstOutputURLHandlesBothShapes(t *testing.T) {
	if url, err := firstOutputURL(json.RawMessage(`"https://a/x.mp4"`)); err != nil || url != "https://a/x.mp4" {
		t.Fatalf("string output: %q, %v", url, err)
	}
	if url, err := firstOutputURL(json.RawMessage(`["https://a/1.mp4", "https://a/2.mp4"]`)); err != nil || url != "https://a/1.mp4" {
		t.Fatalf("array output: %q, %v", url, err)
	}
	if _, err := firstOutputURL(json.RawMessage(`{"frames": 3}`)); err == nil {
		t.Fatal("expected error for unrecognized output shape")
	}
}
