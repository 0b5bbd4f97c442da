package backend

import (
	"context"
	"encoding/json"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

type vllmRequest struct {
	Prompt            string   `json:"prompt"`
	Stop              []string `json:"stop"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	TopK              int      `json:"top_k"`
	TopP              float64  `json:"top_p"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
}

type vllmResponse struct {
	Text json.RawMessage `json:"text"`
}

// VLLM talks to the vLLM demo API server. The engine echoes the prompt in
// front of the completion.
type VLLM struct {
	endpoints
}

// NewVLLM creates the vllm adapter.
func NewVLLM() *VLLM {
	return &VLLM{endpoints{name: "vllm", health: "/health", generate: "/generate"}}
}

// BuildRequest implements Adapter.
func (a *VLLM) BuildRequest(_ context.Context, req types.GenerationRequest, _ string) (any, error) {
	return vllmRequest{
		Prompt:            req.Prompt,
		Stop:              stopOrEmpty(req.StopSequences),
		MaxTokens:         req.MaxLength,
		Temperature:       types.Or(req.Temperature, 1.0),
		TopK:              fixTopK(types.Or(req.TopK, disabledTopK)),
		TopP:              types.Or(req.TopP, 1.0),
		RepetitionPenalty: clampRepetitionPenalty(types.Or(req.RepetitionPenalty, 1.0)),
	}, nil
}

// ExtractGeneration implements Adapter.
func (a *VLLM) ExtractGeneration(body []byte, prompt string) (string, error) {
	var resp vllmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", transport.NewParseError("vllm response", err)
	}
	text, err := textField(resp.Text, "vllm response text")
	if err != nil {
		return "", err
	}
	return stripPrompt(text, prompt), nil
}
