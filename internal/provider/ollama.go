package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// ollamaInvoker talks to a local ollama inference server. Local models
// need no credential; the empty credential argument is ignored.
type ollamaInvoker struct{}

func (o *ollamaInvoker) invoke(ctx context.Context, cfg models.ProviderConfig, _ string, req Request) (*Response, error) {
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", cfg.Endpoint, err)
	}

	// The per-attempt deadline on ctx bounds the call; the HTTP client
	// carries no timeout of its own.
	client := api.NewClient(base, &http.Client{})

	stream := false
	genReq := &api.GenerateRequest{
		Model:  cfg.ModelID,
		Prompt: req.Payload,
		System: req.System,
		Stream: &stream,
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.MaxTokens
	}
	if maxTokens > 0 {
		genReq.Options = map[string]any{"num_predict": maxTokens}
	}

	var final api.GenerateResponse
	err = client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		Text:         final.Response,
		ModelID:      cfg.ModelID,
		InputTokens:  int64(final.Metrics.PromptEvalCount),
		OutputTokens: int64(final.Metrics.EvalCount),
	}, nil
}
