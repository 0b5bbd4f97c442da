// Package queue is the HTTP client for the distributed work-queue service:
// pop a text job, submit its generation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

// BridgeAgent identifies this bridge to the queue service.
const BridgeAgent = "Medusa Bridge:10:https://github.com/the-crypt-keeper"

const (
	popPath    = "/api/v2/generate/text/pop"
	submitPath = "/api/v2/generate/text/submit"

	// DefaultTimeout applies to every queue call.
	DefaultTimeout = 40 * time.Second
)

// Config describes this worker to the queue service.
type Config struct {
	ClusterURL        string
	APIKey            string
	WorkerName        string
	Models            []string
	MaxLength         int
	MaxContextLength  int
	PriorityUsernames []string
	Threads           int
	Timeout           time.Duration
}

type popRequest struct {
	Name              string   `json:"name"`
	Models            []string `json:"models"`
	MaxLength         int      `json:"max_length"`
	MaxContextLength  int      `json:"max_context_length"`
	PriorityUsernames []string `json:"priority_usernames"`
	Softprompts       []string `json:"softprompts"`
	Threads           int      `json:"threads"`
	BridgeAgent       string   `json:"bridge_agent"`
}

type popResponse struct {
	ID      *string         `json:"id"`
	Payload json.RawMessage `json:"payload"`
	Skipped map[string]any  `json:"skipped"`
}

type submitResponse struct {
	Reward *float64 `json:"reward"`
}

// Client pops and submits text jobs.
type Client struct {
	http    *transport.Client
	cluster string
	pop     popRequest
}

// NewClient creates a queue client. The API key is sent as the apikey header
// on every call.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	priority := cfg.PriorityUsernames
	if priority == nil {
		priority = []string{}
	}

	return &Client{
		http: transport.NewClient(transport.Options{
			Timeout: cfg.Timeout,
			Headers: map[string]string{"apikey": cfg.APIKey},
		}),
		cluster: strings.TrimRight(cfg.ClusterURL, "/"),
		pop: popRequest{
			Name:              cfg.WorkerName,
			Models:            cfg.Models,
			MaxLength:         cfg.MaxLength,
			MaxContextLength:  cfg.MaxContextLength,
			PriorityUsernames: priority,
			Softprompts:       []string{},
			Threads:           cfg.Threads,
			BridgeAgent:       BridgeAgent,
		},
	}
}

// Poll asks the queue service for one text job. A nil error with an empty
// claim means the queue had nothing for us. When the queue assigned a job but
// its payload cannot be decoded, Poll returns the claim (ID set, no payload)
// together with a *transport.ParseError.
func (c *Client) Poll(ctx context.Context) (*types.Claim, error) {
	data, err := c.http.PostJSON(ctx, c.cluster+popPath, c.pop)
	if err != nil {
		return nil, err
	}

	var resp popResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, transport.NewParseError("pop response", err)
	}

	claim := &types.Claim{Skipped: resp.Skipped}
	if resp.ID == nil || *resp.ID == "" {
		return claim, nil
	}
	claim.ID = types.JobID(*resp.ID)

	// The job is ours once an id is handed out; keep it so the caller can
	// release it even when the payload is unusable.
	var payload map[string]any
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		return claim, transport.NewParseError("pop payload", err)
	}
	if payload == nil {
		return claim, transport.NewParseError("pop payload", errors.New("missing"))
	}
	claim.Payload = payload
	return claim, nil
}

// Acknowledge submits a generation (or a fault) and returns the reward
// credited for it.
func (c *Client) Acknowledge(ctx context.Context, sub types.Submission) (float64, error) {
	data, err := c.http.PostJSON(ctx, c.cluster+submitPath, sub)
	if err != nil {
		return 0, err
	}

	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, transport.NewParseError("submit response", err)
	}
	if resp.Reward == nil {
		return 0, transport.NewParseError("submit reward", errors.New("missing"))
	}
	return *resp.Reward, nil
}
