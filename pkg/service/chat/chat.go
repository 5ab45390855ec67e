package chat

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// Request carries one user message to relay upstream.
type Request struct {
	Text        string
	Premium     bool
	Personality string
}

// Stream is a lazy, finite, non-restartable sequence of reply fragments.
// Recv returns io.EOF when the upstream reply is exhausted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Service interface {
	StreamReply(ctx context.Context, req Request) (Stream, error)
}

type Config struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

type GPTService struct {
	client *openai.Client
	mu     sync.RWMutex
	config Config
}

func NewGPTService(apiKey string) *GPTService {
	return &GPTService{
		client: openai.NewClient(apiKey),
		config: Config{
			Model: openai.GPT4oMini,
		},
	}
}

// UpdateConfig swaps the generation parameters used for subsequent requests.
func (s *GPTService) UpdateConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Model == "" {
		cfg.Model = s.config.Model
	}
	s.config = cfg
}

// StreamReply opens a streaming completion upstream. The fragments arrive as
// the model produces them; the caller forwards each one and closes the
// stream when Recv reports io.EOF or an error.
func (s *GPTService) StreamReply(ctx context.Context, req Request) (Stream, error) {
	s.mu.RLock()
	cfg := s.config
	s.mu.RUnlock()

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt(req),
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Text,
		},
	}

	upstream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &gptStream{upstream: upstream}, nil
}

type gptStream struct {
	upstream *openai.ChatCompletionStream
}

func (s *gptStream) Recv() (string, error) {
	// Skip keep-alive chunks that carry no content delta.
	for {
		resp, err := s.upstream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *gptStream) Close() error {
	return s.upstream.Close()
}
