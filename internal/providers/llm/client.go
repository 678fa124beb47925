// Package llm wraps the OpenAI chat API behind the planning operations the
// pipeline needs. Every response crosses a strict schema boundary: a reply
// that does not match the expected shape triggers exactly one corrective
// re-prompt before the call fails.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"admint/internal/domain"
	"admint/internal/domain/jsoncfg"
	"admint/internal/infra"
)

// Planner is the planning surface the orchestrator consumes.
type Planner interface {
	PlanStory(ctx context.Context, req StoryRequest) (*domain.Story, error)
	PlanFragments(ctx context.Context, req FragmentRequest) ([]jsoncfg.Fragment, error)
	InventEntity(ctx context.Context, story string, kind domain.EntityKind, name string) (string, error)
	DescribeImages(ctx context.Context, imagePaths []string, kind domain.EntityKind) (string, error)
	RefineAlignment(ctx context.Context, story string, prompts []string) ([]string, error)
}

// StoryRequest carries the inputs for story planning. Feedback, when set,
// requests a wholesale regeneration incorporating the user's notes.
type StoryRequest struct {
	Prompt         string
	TargetDuration int
	ProductName    string
	Feedback       string
	PreviousStory  string
}

// FragmentRequest asks for one structured fragment per planned scene.
type FragmentRequest struct {
	Story       domain.Story
	Durations   []int
	ProductName string
}

// Options configures the client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the OpenAI chat completions API.
type Client struct {
	api    *openai.Client
	model  string
	logger *infra.Logger
}

const (
	defaultModel = openai.GPT4o

	// visionTemperature keeps entity derivation as deterministic as the
	// API allows; drifting descriptions defeat the consistency mechanism.
	visionTemperature   = 0.2
	planningTemperature = 0.7
)

// NewClient constructs a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  model,
		logger: opts.Logger,
	}, nil
}

// PlanStory generates (or, with feedback, regenerates wholesale) the ad
// narrative and its framework.
func (c *Client) PlanStory(ctx context.Context, req StoryRequest) (*domain.Story, error) {
	system := "You are an advertising creative director. Respond with JSON only: " +
		`{"story": "<narrative>", "framework": "<one of: problem-agitate-solve, before-after, testimonial, day-in-the-life>"}`
	var user strings.Builder
	fmt.Fprintf(&user, "Write the narrative for a %d second advertisement video.\nBrief: %s\n", req.TargetDuration, req.Prompt)
	if req.ProductName != "" {
		fmt.Fprintf(&user, "Product: %s\n", req.ProductName)
	}
	if req.Feedback != "" {
		fmt.Fprintf(&user, "\nThe previous story was rejected. Previous story:\n%s\n\nUser feedback to incorporate:\n%s\nWrite a completely new story.", req.PreviousStory, req.Feedback)
	}

	var payload storyPayload
	if err := c.completeJSON(ctx, system, user.String(), planningTemperature, &payload); err != nil {
		return nil, fmt.Errorf("plan story: %w", err)
	}
	return &domain.Story{Narrative: payload.Story, Framework: payload.Framework}, nil
}

// PlanFragments asks for one compact fragment per scene. The narrative
// structure (classic template vs journey) is stated explicitly in the
// instructions rather than left for the model to infer from the count.
func (c *Client) PlanFragments(ctx context.Context, req FragmentRequest) ([]jsoncfg.Fragment, error) {
	system := "You are an advertising storyboard artist. Respond with JSON only: " +
		`{"scenes": [{"subject": "...", "action": "...", "camera": "...", "lighting": "...", "mood": "...", "product_usage": "..."}]}` +
		" Camera must be one of: static, push-in, pull-out, pan-left, pan-right, tilt-up, tilt-down, glide."
	var user strings.Builder
	fmt.Fprintf(&user, "Story (%s framework):\n%s\n\n", req.Story.Framework, req.Story.Narrative)
	fmt.Fprintf(&user, "Divide it into exactly %d scenes with durations %v seconds.\n", len(req.Durations), req.Durations)
	if req.Story.Journey {
		user.WriteString("Use a progressive journey structure: each scene advances a distinct step of the customer's journey. Do not repeat setup/usage/result beats.\n")
	} else {
		user.WriteString("Use the classic three-act structure: setup, product usage, result.\n")
	}
	if req.ProductName != "" {
		fmt.Fprintf(&user, "The product is %q; every scene's product_usage must feature it.\n", req.ProductName)
	}
	user.WriteString("Every scene must have a distinct subject and action; no two scenes may describe the same shot.")

	payload := fragmentsPayload{want: len(req.Durations)}
	if err := c.completeJSON(ctx, system, user.String(), planningTemperature, &payload); err != nil {
		return nil, fmt.Errorf("plan fragments: %w", err)
	}
	fragments := make([]jsoncfg.Fragment, len(payload.Scenes))
	for i, s := range payload.Scenes {
		fragments[i] = jsoncfg.Fragment{
			Subject:      s.Subject,
			Action:       s.Action,
			Camera:       s.Camera,
			Lighting:     s.Lighting,
			Mood:         s.Mood,
			ProductUsage: s.ProductUsage,
		}
		fragments[i].Normalize()
	}
	return fragments, nil
}

// InventEntity has the model produce a forensic-level description for an
// entity that has no reference images, working from the story's mentions.
func (c *Client) InventEntity(ctx context.Context, story string, kind domain.EntityKind, name string) (string, error) {
	system := `You describe subjects for video generation. Respond with JSON only: {"description": "..."}`
	user := fmt.Sprintf("From this story, invent a forensic-level visual description of the %s %q.\n%s\n\n%s\nThe description must be several sentences and specific enough that two artists would draw the same %s.",
		kind, name, story, descriptionFields(kind), kind)

	var payload descriptionPayload
	if err := c.completeJSON(ctx, system, user, visionTemperature, &payload); err != nil {
		return "", fmt.Errorf("invent entity: %w", err)
	}
	return payload.Description, nil
}

// DescribeImages runs vision analysis over reference images and extracts a
// fixed-format forensic description.
func (c *Client) DescribeImages(ctx context.Context, imagePaths []string, kind domain.EntityKind) (string, error) {
	if len(imagePaths) == 0 {
		return "", errors.New("llm: no reference images provided")
	}
	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: fmt.Sprintf("Extract a forensic-level visual description of the %s in these images.\n%s\nRespond with JSON only: {\"description\": \"...\"}. Several sentences minimum.", kind, descriptionFields(kind)),
	}}
	for _, path := range imagePaths {
		dataURL, err := encodeImage(path)
		if err != nil {
			return "", fmt.Errorf("read reference image: %w", err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailHigh},
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: visionTemperature,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision analysis: empty response")
	}
	var payload descriptionPayload
	if err := decodeStrict(resp.Choices[0].Message.Content, &payload); err != nil {
		return "", fmt.Errorf("vision analysis: %w", err)
	}
	return payload.Description, nil
}

// RefineAlignment performs the cross-scene refinement pass: given all
// assembled prompts, the model smooths transitions and tone without
// touching entity description blocks. Must return exactly one prompt per
// input prompt.
func (c *Client) RefineAlignment(ctx context.Context, story string, prompts []string) ([]string, error) {
	system := "You refine video generation prompts for cross-scene coherence. Respond with JSON only: " +
		`{"prompts": ["..."]}. Keep any "maintain EXACT appearance" blocks byte-for-byte unchanged.`
	var user strings.Builder
	fmt.Fprintf(&user, "Story:\n%s\n\nRefine these %d scene prompts so tone and pacing align across scenes. Return the same number of prompts in the same order.\n", story, len(prompts))
	for i, p := range prompts {
		fmt.Fprintf(&user, "--- scene %d ---\n%s\n", i, p)
	}

	payload := alignmentPayload{want: len(prompts)}
	if err := c.completeJSON(ctx, system, user.String(), visionTemperature, &payload); err != nil {
		return nil, fmt.Errorf("alignment refinement: %w", err)
	}
	return payload.Prompts, nil
}

func descriptionFields(kind domain.EntityKind) string {
	if kind == domain.EntityKindProduct {
		return "Cover: shape, dimensions, color and finish, branding, material, unique design elements."
	}
	return "Cover: age, height, build, hair, face, eyes, skin tone, distinguishing marks, expression, clothing."
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

var _ Planner = (*Client)(nil)
