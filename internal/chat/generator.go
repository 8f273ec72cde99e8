package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/tenant"
)

// Turn is one chat message sent to a generator.
type Turn struct {
	Role    string
	Content string
}

// Request is the input of one generation.
type Request struct {
	Model     tenant.Model
	System    string
	History   []Turn
	Message   string
	MaxTokens int
	// Hits are the retrieved entries the system prompt was built from.
	Hits []*models.SearchResult
}

// Generator produces the assistant reply for a chat turn.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIGenerator calls the chat completions endpoint of OpenAI or a compatible server.
type OpenAIGenerator struct {
	client *openai.Client
}

// NewOpenAIGenerator returns a generator authenticated with apiKey.
func NewOpenAIGenerator(apiKey, baseURL string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("openai generator requires an API key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg)}, nil
}

func messages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})
}

// Generate sends the system prompt, history and message and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     string(req.Model.Or(tenant.ModelLite)),
		Messages:  messages(req),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// NoAnswer is the extractive reply when nothing was retrieved.
const NoAnswer = "Sorry, the knowledge base has no answer to that question."

// ExtractiveGenerator answers with the best retrieved entry. It needs no model and is used
// when no generation API key is configured.
type ExtractiveGenerator struct{}

// Generate returns the answer of the highest scored hit.
func (ExtractiveGenerator) Generate(_ context.Context, req Request) (string, error) {
	var best *models.SearchResult
	for _, h := range req.Hits {
		if best == nil || h.Score > best.Score {
			best = h
		}
	}
	if best == nil {
		return NoAnswer, nil
	}
	return best.Answer, nil
}
