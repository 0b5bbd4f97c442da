package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

type koboldResponse struct {
	Results []struct {
		Text *string `json:"text"`
	} `json:"results"`
}

// KoboldCpp speaks the KoboldAI API natively, so the claimed payload is
// forwarded unchanged.
type KoboldCpp struct {
	endpoints
}

// NewKoboldCpp creates the koboldcpp adapter.
func NewKoboldCpp() *KoboldCpp {
	return &KoboldCpp{endpoints{name: "koboldcpp", health: "/api/extra/version", generate: "/api/v1/generate"}}
}

// BuildRequest implements Adapter.
func (a *KoboldCpp) BuildRequest(_ context.Context, req types.GenerationRequest, _ string) (any, error) {
	return req.Payload(), nil
}

// ExtractGeneration implements Adapter.
func (a *KoboldCpp) ExtractGeneration(body []byte, _ string) (string, error) {
	var resp koboldResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", transport.NewParseError("koboldcpp response", err)
	}
	if len(resp.Results) == 0 {
		return "", transport.NewParseError("koboldcpp results", errors.New("empty"))
	}
	if resp.Results[0].Text == nil {
		return "", transport.NewParseError("koboldcpp results[0].text", errors.New("missing"))
	}
	return *resp.Results[0].Text, nil
}
