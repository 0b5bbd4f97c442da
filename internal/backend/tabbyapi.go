package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

const (
	tokenEncodePath = "/v1/token/encode"
	tokenDecodePath = "/v1/token/decode"
)

type tokenEncodeRequest struct {
	Text string `json:"text"`
}

type tokenEncodeResponse struct {
	Tokens []int `json:"tokens"`
	Length int   `json:"length"`
}

type tokenDecodeRequest struct {
	Tokens []int `json:"tokens"`
}

type tokenDecodeResponse struct {
	Text *string `json:"text"`
}

type completionResponse struct {
	Choices []struct {
		Text *string `json:"text"`
	} `json:"choices"`
}

// TabbyAPI talks to TabbyAPI's OpenAI-style completions endpoint. Prompts that
// would overflow the context are trimmed from the middle using the server's
// own tokenizer.
type TabbyAPI struct {
	endpoints
	poster Poster
	logger *slog.Logger
}

// NewTabbyAPI creates the tabbyapi adapter.
func NewTabbyAPI(poster Poster, logger *slog.Logger) *TabbyAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &TabbyAPI{
		endpoints: endpoints{name: "tabbyapi", health: "/health", generate: "/v1/completions"},
		poster:    poster,
		logger:    logger,
	}
}

// BuildRequest implements Adapter. Tokenizer failures are logged and the
// untruncated payload is sent instead.
func (a *TabbyAPI) BuildRequest(ctx context.Context, req types.GenerationRequest, serverURL string) (any, error) {
	payload := req.Payload()
	// disable tail-free sampling
	payload["tfs"] = 1.0

	base := strings.TrimRight(serverURL, "/")

	tokens, err := a.encode(ctx, base, req.Prompt)
	if err != nil {
		a.logger.Error("Failed to encode prompt tokens, sending untruncated prompt", "error", err)
		return payload, nil
	}

	maxPromptTokens := req.MaxContextLength - req.MaxLength
	a.logger.Debug("Prompt token budget",
		"max_context_length", req.MaxContextLength,
		"max_length", req.MaxLength,
		"max_prompt_tokens", maxPromptTokens,
		"prompt_tokens", len(tokens))

	if len(tokens) <= maxPromptTokens {
		return payload, nil
	}

	kept := TruncateTokens(tokens, maxPromptTokens)
	a.logger.Info("Trimmed prompt", "from_tokens", len(tokens), "to_tokens", len(kept))

	prompt, err := a.decode(ctx, base, kept)
	if err != nil {
		a.logger.Error("Failed to decode trimmed prompt, sending untruncated prompt", "error", err)
		return payload, nil
	}
	payload["prompt"] = prompt
	return payload, nil
}

// ExtractGeneration implements Adapter.
func (a *TabbyAPI) ExtractGeneration(body []byte, _ string) (string, error) {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", transport.NewParseError("tabbyapi response", err)
	}
	if len(resp.Choices) == 0 {
		return "", transport.NewParseError("tabbyapi choices", errors.New("empty"))
	}
	if resp.Choices[0].Text == nil {
		return "", transport.NewParseError("tabbyapi choices[0].text", errors.New("missing"))
	}
	return *resp.Choices[0].Text, nil
}

// TruncateTokens keeps the first and last floor(limit/2) tokens when the
// sequence is longer than limit. A non-positive limit keeps nothing.
func TruncateTokens(tokens []int, limit int) []int {
	if len(tokens) <= limit {
		return tokens
	}
	half := limit / 2
	if half < 0 {
		half = 0
	}
	kept := make([]int, 0, 2*half)
	kept = append(kept, tokens[:half]...)
	kept = append(kept, tokens[len(tokens)-half:]...)
	return kept
}

func (a *TabbyAPI) encode(ctx context.Context, base, prompt string) ([]int, error) {
	data, err := a.poster.PostJSON(ctx, base+tokenEncodePath, tokenEncodeRequest{Text: prompt})
	if err != nil {
		return nil, err
	}
	var resp tokenEncodeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, transport.NewParseError("token encode response", err)
	}
	if resp.Tokens == nil {
		return nil, transport.NewParseError("token encode tokens", errors.New("missing"))
	}
	return resp.Tokens, nil
}

func (a *TabbyAPI) decode(ctx context.Context, base string, tokens []int) (string, error) {
	data, err := a.poster.PostJSON(ctx, base+tokenDecodePath, tokenDecodeRequest{Tokens: tokens})
	if err != nil {
		return "", err
	}
	var resp tokenDecodeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", transport.NewParseError("token decode response", err)
	}
	if resp.Text == nil {
		return "", transport.NewParseError("token decode text", errors.New("missing"))
	}
	return *resp.Text, nil
}
