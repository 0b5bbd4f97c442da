package backend

import (
	"context"
	"encoding/json"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

type sglangSamplingParams struct {
	Stop         []string `json:"stop"`
	MaxNewTokens int      `json:"max_new_tokens"`
	Temperature  float64  `json:"temperature"`
	TopK         int      `json:"top_k"`
	TopP         float64  `json:"top_p"`
}

type sglangRequest struct {
	Text           string               `json:"text"`
	SamplingParams sglangSamplingParams `json:"sampling_params"`
}

type sglangResponse struct {
	Text json.RawMessage `json:"text"`
}

// SGLang talks to an SGLang runtime's native /generate endpoint.
type SGLang struct {
	endpoints
}

// NewSGLang creates the sglang adapter.
func NewSGLang() *SGLang {
	return &SGLang{endpoints{name: "sglang", health: "/health", generate: "/generate"}}
}

// BuildRequest implements Adapter.
func (a *SGLang) BuildRequest(_ context.Context, req types.GenerationRequest, _ string) (any, error) {
	return sglangRequest{
		Text: req.Prompt,
		SamplingParams: sglangSamplingParams{
			Stop:         stopOrEmpty(req.StopSequences),
			MaxNewTokens: req.MaxLength,
			Temperature:  types.Or(req.Temperature, 1.0),
			TopK:         fixTopK(types.Or(req.TopK, disabledTopK)),
			TopP:         types.Or(req.TopP, 1.0),
		},
	}, nil
}

// ExtractGeneration implements Adapter.
func (a *SGLang) ExtractGeneration(body []byte, _ string) (string, error) {
	var resp sglangResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", transport.NewParseError("sglang response", err)
	}
	return textField(resp.Text, "sglang response text")
}
