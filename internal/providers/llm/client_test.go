package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"admint/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func chatResponse(content string) *http.Response {
	body := map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":   0,
			"message": map[string]any{"role": "assistant", "content": content},
		}},
	}
	raw, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(raw))),
	}
}

func newTestClient(t *testing.T, transport roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "test-key",
		Model:      "gpt-4o",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestPlanStoryDecodesWellFormedResponse(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatResponse(`{"story": "A tired commuter discovers cold brew.", "framework": "problem-agitate-solve"}`), nil
	})
	story, err := client.PlanStory(context.Background(), StoryRequest{Prompt: "sell cold brew", TargetDuration: 30})
	if err != nil {
		t.Fatalf("PlanStory returned error: %v", err)
	}
	if story.Framework != "problem-agitate-solve" {
		t.Fatalf("Framework = %q", story.Framework)
	}
}

func TestCompleteJSONRepromptsOnceOnShapeMismatch(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			// The historical bug shape: the model renames the key.
			return chatResponse(`{"visual_prompt": "wrong shape", "framework": "testimonial"}`), nil
		}
		// The corrective re-prompt must include the correction instruction.
		payload, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(payload), "did not match the required JSON shape") {
			t.Error("second request missing corrective instruction")
		}
		return chatResponse(`{"story": "Fixed narrative.", "framework": "testimonial"}`), nil
	})
	story, err := client.PlanStory(context.Background(), StoryRequest{Prompt: "p", TargetDuration: 20})
	if err != nil {
		t.Fatalf("PlanStory returned error after corrective re-prompt: %v", err)
	}
	if calls != 2 {
		t.Fatalf("API calls = %d, want 2", calls)
	}
	if story.Narrative != "Fixed narrative." {
		t.Fatalf("Narrative = %q", story.Narrative)
	}
}

func TestCompleteJSONFailsAfterSecondMismatch(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		calls++
		return chatResponse(`{"scene_description": "still wrong"}`), nil
	})
	_, err := client.PlanStory(context.Background(), StoryRequest{Prompt: "p", TargetDuration: 20})
	if err == nil {
		t.Fatal("expected failure after two malformed responses")
	}
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Fatalf("error = %v, want ErrSchemaMismatch", err)
	}
	if calls != 2 {
		t.Fatalf("API calls = %d, want exactly 2 (one re-prompt)", calls)
	}
}

func TestPlanFragmentsEnforcesSceneCount(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		calls++
		// Two scenes when three were requested, twice.
		return chatResponse(`{"scenes": [{"subject": "a", "action": "b"}, {"subject": "c", "action": "d"}]}`), nil
	})
	_, err := client.PlanFragments(context.Background(), FragmentRequest{
		Story:     domain.Story{Narrative: "n", Framework: "f"},
		Durations: []int{6, 6, 4},
	})
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Fatalf("error = %v, want ErrSchemaMismatch", err)
	}
}

func TestPlanFragmentsNormalizesCamera(t *testing.T) {
	scenes := `{"scenes": [
		{"subject": "a runner", "action": "ties laces", "camera": "Dolly Vertigo"},
		{"subject": "the shoe", "action": "hits pavement", "camera": "push-in"},
		{"subject": "the runner", "action": "smiles at sunrise", "camera": "glide"}]}`
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatResponse(scenes), nil
	})
	fragments, err := client.PlanFragments(context.Background(), FragmentRequest{
		Story:     domain.Story{Narrative: "n", Framework: "f"},
		Durations: []int{6, 6, 4},
	})
	if err != nil {
		t.Fatalf("PlanFragments returned error: %v", err)
	}
	if fragments[0].Camera != "static" {
		t.Fatalf("unrecognized camera = %q, want static", fragments[0].Camera)
	}
	if fragments[1].Camera != "push-in" || fragments[2].Camera != "glide" {
		t.Fatal("valid camera values must pass through")
	}
}

func TestExtractJSONHandlesMarkdownFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"Here you go:\n{\"a\": 1}", `{"a": 1}`},
		{"{\"a\": 1}", `{"a": 1}`},
		{"no json here", ""},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRefineAlignmentRequiresMatchingCount(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatResponse(`{"prompts": ["only one"]}`), nil
	})
	_, err := client.RefineAlignment(context.Background(), "story", []string{"p1", "p2"})
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Fatalf("error = %v, want ErrSchemaMismatch", err)
	}
}
