package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ashureev/lingua-labs/internal/domain"
)

// OpenAIGenerator asks an OpenAI-compatible chat endpoint for tutor replies.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator. baseURL may be empty.
func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

type generatedReply struct {
	Content       string   `json:"content"`
	Suggestions   []string `json:"suggestions"`
	Confidence    *float64 `json:"confidence"`
	ProgressPoint *int     `json:"progress_points"`
	NextTopic     string   `json:"next_topic"`
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, s domain.Session, text string) (Reply, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(s)),
			openai.UserMessage(text),
		},
		MaxTokens:   openai.Int(500),
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}
	return parseGenerated(resp.Choices[0].Message.Content), nil
}

func systemPrompt(s domain.Session) string {
	return fmt.Sprintf(`You are a tutor helping a learner practice the %q language.
Learner level: %s.
Reply in the target language, correct mistakes gently, suggest new words and phrases,
keep the learner motivated and adapt difficulty to the level.
Answer with a JSON object with the fields: content, suggestions, confidence, progress_points, next_topic.`,
		s.TargetLanguage, s.Level)
}

// parseGenerated accepts either the requested JSON object or plain text.
func parseGenerated(raw string) Reply {
	var g generatedReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &g); err == nil && g.Content != "" {
		r := Reply{
			Text:          g.Content,
			Suggestions:   g.Suggestions,
			ProgressDelta: 2,
			Confidence:    0.9,
			Intent:        IntentGenerated,
			NextTopic:     g.NextTopic,
			Topic:         g.NextTopic,
		}
		if g.Confidence != nil && *g.Confidence >= 0 && *g.Confidence <= 1 {
			r.Confidence = *g.Confidence
		}
		if g.ProgressPoint != nil && *g.ProgressPoint >= 0 {
			r.ProgressDelta = *g.ProgressPoint
		}
		if r.Suggestions == nil {
			r.Suggestions = []string{}
		}
		return r
	}
	return Reply{
		Text:          raw,
		Suggestions:   []string{},
		ProgressDelta: 2,
		Confidence:    0.9,
		Intent:        IntentGenerated,
	}
}
