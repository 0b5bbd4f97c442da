package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/horde-bridge/internal/backend"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

// stubAdapter is a minimal Adapter for registry tests.
type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string         { return s.name }
func (s *stubAdapter) HealthPath() string   { return "/up" }
func (s *stubAdapter) GeneratePath() string { return "/gen" }

func (s *stubAdapter) BuildRequest(_ context.Context, req types.GenerationRequest, _ string) (any, error) {
	return req.Payload(), nil
}

func (s *stubAdapter) ExtractGeneration(body []byte, _ string) (string, error) {
	return string(body), nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(&stubAdapter{name: "stub"})

	a, err := reg.Resolve("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", a.Name())
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(&stubAdapter{name: "stub"})

	_, err := reg.Resolve("ollama")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnknownEngine))
	assert.Contains(t, err.Error(), "ollama")
	assert.Contains(t, err.Error(), "stub")
}

func TestDefaultRegistryEngines(t *testing.T) {
	reg := backend.NewDefaultRegistry(nil, nil)

	list := reg.List()
	names := make([]string, 0, len(list))
	for _, info := range list {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"koboldcpp", "llamacpp", "sglang", "tabbyapi", "vllm"}, names)

	paths := map[string][2]string{
		"vllm":      {"/health", "/generate"},
		"sglang":    {"/health", "/generate"},
		"koboldcpp": {"/api/extra/version", "/api/v1/generate"},
		"llamacpp":  {"/props", "/completion"},
		"tabbyapi":  {"/health", "/v1/completions"},
	}
	for _, info := range list {
		want := paths[info.Name]
		assert.Equal(t, want[0], info.HealthPath, info.Name)
		assert.Equal(t, want[1], info.GeneratePath, info.Name)
	}
}
