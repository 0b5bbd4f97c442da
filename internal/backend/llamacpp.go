package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

type llamaCppRequest struct {
	Prompt        string   `json:"prompt"`
	Stop          []string `json:"stop"`
	NPredict      int      `json:"n_predict"`
	NKeep         int      `json:"n_keep"`
	Temperature   float64  `json:"temperature"`
	TFSZ          float64  `json:"tfs_z"`
	TopK          int      `json:"top_k"`
	TopP          float64  `json:"top_p"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	RepeatLastN   int      `json:"repeat_last_n"`
	TypicalP      float64  `json:"typical_p"`
}

type llamaCppResponse struct {
	Content *string `json:"content"`
}

// LlamaCpp talks to the llama.cpp example server.
type LlamaCpp struct {
	endpoints
}

// NewLlamaCpp creates the llamacpp adapter.
func NewLlamaCpp() *LlamaCpp {
	return &LlamaCpp{endpoints{name: "llamacpp", health: "/props", generate: "/completion"}}
}

// BuildRequest implements Adapter.
func (a *LlamaCpp) BuildRequest(_ context.Context, req types.GenerationRequest, _ string) (any, error) {
	return llamaCppRequest{
		Prompt:        req.Prompt,
		Stop:          stopOrEmpty(req.StopSequences),
		NPredict:      req.MaxLength,
		NKeep:         req.MaxContextLength - req.MaxLength,
		Temperature:   types.Or(req.Temperature, 1.0),
		TFSZ:          types.Or(req.TFS, 1.0),
		TopK:          types.Or(req.TopK, disabledTopK),
		TopP:          types.Or(req.TopP, 1.0),
		RepeatPenalty: types.Or(req.RepetitionPenalty, 1.0),
		RepeatLastN:   types.Or(req.RepPenRange, 64),
		TypicalP:      types.Or(req.Typical, 0.0),
	}, nil
}

// ExtractGeneration implements Adapter.
func (a *LlamaCpp) ExtractGeneration(body []byte, _ string) (string, error) {
	var resp llamaCppResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", transport.NewParseError("llamacpp response", err)
	}
	if resp.Content == nil {
		return "", transport.NewParseError("llamacpp content", errors.New("missing"))
	}
	return *resp.Content, nil
}
