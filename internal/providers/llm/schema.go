package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"admint/internal/domain"
)

// The LLM boundary is the historical bug surface: models occasionally
// return a differently-shaped object (a renamed key, a bare string, a
// wrapped array). Each payload type validates its own shape; a mismatch
// triggers one corrective re-prompt before the stage fails.

type schemaPayload interface {
	validate() error
}

type storyPayload struct {
	Story     string `json:"story"`
	Framework string `json:"framework"`
}

func (p *storyPayload) validate() error {
	if strings.TrimSpace(p.Story) == "" {
		return errors.New(`missing "story"`)
	}
	if strings.TrimSpace(p.Framework) == "" {
		return errors.New(`missing "framework"`)
	}
	return nil
}

type fragmentScene struct {
	Subject      string `json:"subject"`
	Action       string `json:"action"`
	Camera       string `json:"camera"`
	Lighting     string `json:"lighting"`
	Mood         string `json:"mood"`
	ProductUsage string `json:"product_usage"`
}

type fragmentsPayload struct {
	Scenes []fragmentScene `json:"scenes"`
	want   int
}

func (p *fragmentsPayload) validate() error {
	if len(p.Scenes) == 0 {
		return errors.New(`missing or empty "scenes" array`)
	}
	if p.want > 0 && len(p.Scenes) != p.want {
		return fmt.Errorf(`"scenes" has %d entries, expected exactly %d`, len(p.Scenes), p.want)
	}
	for i, s := range p.Scenes {
		if strings.TrimSpace(s.Subject) == "" && strings.TrimSpace(s.Action) == "" && strings.TrimSpace(s.ProductUsage) == "" {
			return fmt.Errorf("scene %d has no subject, action or product_usage", i)
		}
	}
	return nil
}

type descriptionPayload struct {
	Description string `json:"description"`
}

func (p *descriptionPayload) validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return errors.New(`missing "description"`)
	}
	return nil
}

type alignmentPayload struct {
	Prompts []string `json:"prompts"`
	want    int
}

func (p *alignmentPayload) validate() error {
	if p.want > 0 && len(p.Prompts) != p.want {
		return fmt.Errorf(`"prompts" has %d entries, expected exactly %d`, len(p.Prompts), p.want)
	}
	for i, prompt := range p.Prompts {
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("prompt %d is empty", i)
		}
	}
	return nil
}

// completeJSON runs one chat completion and decodes the reply into out. On
// a shape mismatch it issues a single corrective re-prompt naming the
// problem, then gives up with ErrSchemaMismatch.
func (c *Client) completeJSON(ctx context.Context, system, user string, temperature float32, out schemaPayload) error {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}

	content, err := c.chat(ctx, messages, temperature)
	if err != nil {
		return err
	}
	firstErr := decodeStrict(content, out)
	if firstErr == nil {
		return nil
	}
	if c.logger != nil {
		c.logger.Warn().Err(firstErr).Msg("llm: response shape mismatch, re-prompting once")
	}

	messages = append(messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("Your previous response did not match the required JSON shape: %v. "+
				"Respond again with ONLY the JSON object in exactly the shape specified, no prose, no markdown fences.", firstErr),
		},
	)
	content, err = c.chat(ctx, messages, temperature)
	if err != nil {
		return err
	}
	if err := decodeStrict(content, out); err != nil {
		return fmt.Errorf("%w: %v (after corrective re-prompt)", domain.ErrSchemaMismatch, err)
	}
	return nil
}

func (c *Client) chat(ctx context.Context, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeStrict strips markdown fences, unmarshals, and validates the
// payload's shape.
func decodeStrict(content string, out schemaPayload) error {
	raw := extractJSON(content)
	if raw == "" {
		return errors.New("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode: %v", err)
	}
	return out.validate()
}

// extractJSON pulls the outermost JSON object out of a reply that may be
// wrapped in markdown fences or prose.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
		content = strings.TrimPrefix(content, "json")
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}
	end := strings.LastIndexAny(content, "}]")
	if end < start {
		return ""
	}
	return content[start : end+1]
}
