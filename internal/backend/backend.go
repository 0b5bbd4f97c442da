package backend

import (
	"context"

	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

// Adapter is the capability set the worker lifecycle needs from an
// inference engine.
type Adapter interface {
	// Name is the engine name used for registry lookup and the advertised
	// model prefix.
	Name() string

	// HealthPath is appended to the server URL for health probes.
	HealthPath() string

	// GeneratePath is appended to the server URL for generation requests.
	GeneratePath() string

	// BuildRequest maps a sanitized request onto the engine's request body.
	// Implementations may make auxiliary calls to serverURL.
	BuildRequest(ctx context.Context, req types.GenerationRequest, serverURL string) (any, error)

	// ExtractGeneration pulls the generated text out of a raw response body.
	// A body of the wrong shape yields a *transport.ParseError.
	ExtractGeneration(body []byte, prompt string) (string, error)
}

// Poster is the subset of the transport client adapters use for auxiliary
// round trips.
type Poster interface {
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
}

// Info describes a registered adapter.
type Info struct {
	Name         string `json:"name"`
	HealthPath   string `json:"health_path"`
	GeneratePath string `json:"generate_path"`
}

// endpoints carries the fixed paths shared by every adapter implementation.
type endpoints struct {
	name     string
	health   string
	generate string
}

func (e endpoints) Name() string         { return e.name }
func (e endpoints) HealthPath() string   { return e.health }
func (e endpoints) GeneratePath() string { return e.generate }
