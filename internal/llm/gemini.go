// Package llm adapts the Gemini API to the chat completion and embedding
// gateway contracts consumed by the core pipeline.
package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"

	"acme.com/hr-assistant/internal/core"
	"acme.com/hr-assistant/internal/logging"
	"acme.com/hr-assistant/internal/store"
)

// Client wraps a genai client as both a core.ChatClient and a
// core.EmbeddingClient.
type Client struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

func NewClient(ctx context.Context, apiKey, chatModel, embeddingModel string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	return &Client{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			logging.Default().Warn("error closing genai client", "error", err)
		}
	}
}

// Complete sends the message sequence to the chat model. Leading system
// messages become the model's system instruction, assistant messages map to
// the "model" role, and the trailing user message is sent as the live turn
// with the rest as chat history.
func (c *Client) Complete(ctx context.Context, messages []store.Message, params core.GenParams) (string, error) {
	if len(messages) == 0 {
		return "", goerr.New("message sequence is empty", goerr.T(core.TagService))
	}

	model := c.client.GenerativeModel(c.chatModel)
	model.SetTemperature(params.Temperature)
	model.SetTopP(params.TopP)
	if params.MaxTokens > 0 {
		model.SetMaxOutputTokens(params.MaxTokens)
	}

	var systemParts []string
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case store.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case store.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	if len(systemParts) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(systemParts, "\n\n"))},
		}
	}

	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return "", goerr.New("last message must be from the user", goerr.T(core.TagService))
	}

	session := model.StartChat()
	session.History = contents[:len(contents)-1]

	last := contents[len(contents)-1]
	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", goerr.Wrap(err, "gemini chat request failed", goerr.T(core.TagService))
	}

	text := responseText(resp)
	if text == "" {
		return "", goerr.New("gemini returned no text candidates", goerr.T(core.TagParse))
	}
	return text, nil
}

// Embed converts texts to vectors in a single batch request, preserving
// input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, goerr.New("texts list cannot be empty", goerr.T(core.TagService))
	}

	em := c.client.EmbeddingModel(c.embeddingModel)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, goerr.Wrap(err, "gemini embedding request failed", goerr.T(core.TagService))
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch", goerr.T(core.TagService),
			goerr.V("requested", len(texts)))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, goerr.New("no embedding data received", goerr.T(core.TagService))
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
