package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		ClusterURL:        url + "/",
		APIKey:            "key-123",
		WorkerName:        "worker-1",
		Models:            []string{"vllm/mistral"},
		MaxLength:         512,
		MaxContextLength:  1024,
		PriorityUsernames: []string{"alice#1"},
		Threads:           2,
	})
}

func TestPollSendsWorkerIdentity(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, popPath, r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("apikey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id": "abc", "payload": {"prompt": "Hi", "max_length": null}, "skipped": {}}`))
	}))
	defer srv.Close()

	claim, err := newTestClient(srv.URL).Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, claim.Empty())
	assert.Equal(t, types.JobID("abc"), claim.ID)
	assert.Equal(t, "Hi", claim.Payload["prompt"])

	assert.Equal(t, "worker-1", got["name"])
	assert.Equal(t, []any{"vllm/mistral"}, got["models"])
	assert.Equal(t, float64(512), got["max_length"])
	assert.Equal(t, float64(1024), got["max_context_length"])
	assert.Equal(t, []any{"alice#1"}, got["priority_usernames"])
	assert.Equal(t, []any{}, got["softprompts"])
	assert.Equal(t, float64(2), got["threads"])
	assert.Equal(t, BridgeAgent, got["bridge_agent"])
}

func TestPollEmptyQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": null, "payload": {}, "skipped": {"max_context_length": 3}}`))
	}))
	defer srv.Close()

	claim, err := newTestClient(srv.URL).Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, claim.Empty())
	assert.Equal(t, float64(3), claim.Skipped["max_context_length"])
}

func TestPollMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "abc", "payload": "nope"}`))
	}))
	defer srv.Close()

	claim, err := newTestClient(srv.URL).Poll(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsParseError(err))
	require.NotNil(t, claim, "assigned job id is kept")
	assert.Equal(t, types.JobID("abc"), claim.ID)
	assert.Nil(t, claim.Payload)
}

func TestPollNullPayloadKeepsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "abc", "payload": null}`))
	}))
	defer srv.Close()

	claim, err := newTestClient(srv.URL).Poll(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsParseError(err))
	require.NotNil(t, claim)
	assert.False(t, claim.Empty())
	assert.Equal(t, types.JobID("abc"), claim.ID)
}

func TestPollServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Poll(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsServerError(err))
}

func TestAcknowledgeGeneration(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, submitPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"reward": 12.5}`))
	}))
	defer srv.Close()

	reward, err := newTestClient(srv.URL).Acknowledge(context.Background(), types.Submission{ID: "abc", Generation: "text"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, reward)
	assert.Equal(t, map[string]any{"id": "abc", "generation": "text"}, got)
}

func TestAcknowledgeFaulted(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"reward": 0}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Acknowledge(context.Background(), types.FaultedSubmission("abc"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":         "abc",
		"state":      "faulted",
		"generation": "faulted",
		"seed":       float64(-1),
	}, got)
}

func TestAcknowledgeMissingReward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Acknowledge(context.Background(), types.Submission{ID: "abc", Generation: "x"})
	require.Error(t, err)
	assert.True(t, transport.IsParseError(err))
}
