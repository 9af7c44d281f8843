package provider

import (
	"context"

	"github.com/tutorialhub/answerd/config"
	openai_provider "github.com/tutorialhub/answerd/provider/openai"
)

// Message is one turn of a chat conversation sent to the generation model.
type Message = openai_provider.Message

// EmbeddingProvider turns text into fixed-length vectors. Dimensions is
// process-wide: every call embeds into the same dimensionality, so search
// results stay comparable with the indexed corpus.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// LLMProvider generates answer text, either in one shot or as a stream of
// text deltas. The delta channel is closed when generation finishes; errCh
// delivers at most one terminal error.
type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	CompleteStream(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// ReducedDimensions and FullDimensions are the two supported embedding
// precision modes. Switching modes requires re-embedding the whole corpus.
const (
	ReducedDimensions = openai_provider.ReducedDimensions
	FullDimensions    = openai_provider.FullDimensions
)

// NewOpenAI builds a client that serves as both the embedding and the
// generation provider, configured from the openai config section.
func NewOpenAI(cfg config.OpenAIConfig, fastEmbeddings bool) (*openai_provider.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dims := FullDimensions
	if fastEmbeddings {
		dims = ReducedDimensions
	}
	return openai_provider.NewClient(openai_provider.Options{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		CompletionModel: cfg.CompletionModel,
		EmbeddingModel:  cfg.EmbeddingModel,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		Dimensions:      dims,
		Timeout:         cfg.Timeout,
	}), nil
}
