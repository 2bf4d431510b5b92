// Package gemini implements backend.Chatter on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"sessioncore/internal/backend"
	"sessioncore/internal/progress"
)

const DefaultModel = "gemini-2.5-flash"

var ErrEmptyResponse = errors.New("gemini returned no text")

var _ backend.Chatter = (*Client)(nil)

type Client struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Chat answers as the NPC. The persona becomes the system instruction and the
// transcript so far is replayed as conversation turns.
func (c *Client) Chat(ctx context.Context, npcID, message string, info backend.ChatContext) (string, error) {
	system, contents := toContents(info.History)
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	persona := info.Persona
	if system != "" {
		persona = strings.TrimSpace(persona + "\n\n" + system)
	}
	cfg := &genai.GenerateContentConfig{}
	if persona != "" {
		cfg.SystemInstruction = genai.NewContentFromText(persona, genai.RoleUser)
	}
	return c.generate(ctx, contents, cfg)
}

func (c *Client) Complete(ctx context.Context, messages []progress.Message, opts backend.CompleteOptions) (string, error) {
	system, contents := toContents(messages)
	if opts.System != "" {
		system = strings.TrimSpace(opts.System + "\n\n" + system)
	}
	if len(contents) == 0 {
		return "", errors.New("gemini: completion needs at least one message")
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return c.generate(ctx, contents, cfg)
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// toContents splits system messages out of a transcript and maps the rest to
// Gemini roles.
func toContents(messages []progress.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case progress.RoleSystem:
			system = append(system, text)
		case progress.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n"), contents
}
