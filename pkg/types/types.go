// Package types defines the core domain model shared by the bridge packages.
package types

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Defaults applied to a claimed payload before dispatch.
const (
	DefaultMaxLength        = 80
	DefaultMaxContextLength = 1024
)

// JobID is the opaque job identifier handed out by the queue service.
type JobID string

// JobState is the state reported back to the queue service on submit.
type JobState string

const (
	StateOK      JobState = ""        // normal submit, no state field on the wire
	StateFaulted JobState = "faulted" // generation failed, release the job
)

// imageFields are keys that only appear in image-generation payloads.
var imageFields = []string{"width", "length", "steps"}

// Job is one claimed unit of work. It lives for a single lifecycle iteration.
type Job struct {
	ID      JobID             `json:"id"`
	Payload GenerationRequest `json:"payload"`
}

// GenerationRequest is the canonical, pre-adapter text-generation request.
//
// Optional sampling fields are pointers so that adapters can tell "absent"
// apart from an explicit zero and apply their own engine defaults. Raw keeps the
// payload exactly as claimed so pass-through adapters can forward
// engine-specific fields untouched.
type GenerationRequest struct {
	Prompt            string   `json:"prompt"`
	StopSequences     []string `json:"stop_sequence,omitempty"`
	MaxLength         int      `json:"max_length"`
	MaxContextLength  int      `json:"max_context_length"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	RepetitionPenalty *float64 `json:"rep_pen,omitempty"`
	RepPenRange       *int     `json:"rep_pen_range,omitempty"`
	Typical           *float64 `json:"typical,omitempty"`
	TFS               *float64 `json:"tfs,omitempty"`

	Raw map[string]any `json:"-"`
}

// ParseGenerationRequest builds a GenerationRequest from a claimed payload.
// Missing or null numeric fields stay unset; a field of the wrong type is an error.
func ParseGenerationRequest(payload map[string]any) (GenerationRequest, error) {
	req := GenerationRequest{Raw: maps.Clone(payload)}
	if req.Raw == nil {
		req.Raw = make(map[string]any)
	}

	if v, ok := payload["prompt"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return GenerationRequest{}, fmt.Errorf("prompt: expected string, got %T", v)
		}
		req.Prompt = s
	}

	if v, ok := payload["stop_sequence"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return GenerationRequest{}, fmt.Errorf("stop_sequence: expected array, got %T", v)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return GenerationRequest{}, fmt.Errorf("stop_sequence: expected string element, got %T", item)
			}
			req.StopSequences = append(req.StopSequences, s)
		}
	}

	var err error
	if req.MaxLength, err = intField(payload, "max_length"); err != nil {
		return GenerationRequest{}, err
	}
	if req.MaxContextLength, err = intField(payload, "max_context_length"); err != nil {
		return GenerationRequest{}, err
	}

	floats := []struct {
		key string
		dst **float64
	}{
		{"temperature", &req.Temperature},
		{"top_p", &req.TopP},
		{"rep_pen", &req.RepetitionPenalty},
		{"typical", &req.Typical},
		{"tfs", &req.TFS},
	}
	for _, f := range floats {
		if *f.dst, err = optionalFloat(payload, f.key); err != nil {
			return GenerationRequest{}, err
		}
	}

	ints := []struct {
		key string
		dst **int
	}{
		{"top_k", &req.TopK},
		{"rep_pen_range", &req.RepPenRange},
	}
	for _, f := range ints {
		v, err := optionalFloat(payload, f.key)
		if err != nil {
			return GenerationRequest{}, err
		}
		if v != nil {
			n := int(*v)
			*f.dst = &n
		}
	}

	return req, nil
}

// Sanitize fills in max_length and max_context_length when the queue omitted
// them (absent, null or zero).
func (r *GenerationRequest) Sanitize() {
	if r.MaxLength <= 0 {
		r.MaxLength = DefaultMaxLength
	}
	if r.MaxContextLength <= 0 {
		r.MaxContextLength = DefaultMaxContextLength
	}
}

// Payload returns a copy of the raw payload with the canonical fields
// re-applied, so sanitation and prompt rewrites are visible to pass-through
// engines.
func (r GenerationRequest) Payload() map[string]any {
	out := maps.Clone(r.Raw)
	if out == nil {
		out = make(map[string]any)
	}
	out["prompt"] = r.Prompt
	out["max_length"] = r.MaxLength
	out["max_context_length"] = r.MaxContextLength
	return out
}

// IsImagePayload reports whether a claimed payload carries fields that belong
// to an image-generation job.
func IsImagePayload(payload map[string]any) bool {
	for _, key := range imageFields {
		if _, ok := payload[key]; ok {
			return true
		}
	}
	return false
}

// Or dereferences p, falling back to def when p is nil.
func Or[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func intField(payload map[string]any, key string) (int, error) {
	v, err := optionalFloat(payload, key)
	if err != nil || v == nil {
		return 0, err
	}
	return int(*v), nil
}

func optionalFloat(payload map[string]any, key string) (*float64, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%s: expected number, got %T", key, raw)
	}
	return &f, nil
}

// Claim is the queue service's answer to a pop request. An empty ID means the
// queue had nothing for this worker.
type Claim struct {
	ID      JobID          `json:"id"`
	Payload map[string]any `json:"payload"`
	Skipped map[string]any `json:"skipped"`
}

// Empty reports whether the claim carries no job.
func (c *Claim) Empty() bool {
	return c == nil || c.ID == ""
}

// Submission is the body of a submit call.
type Submission struct {
	ID         JobID    `json:"id"`
	Generation string   `json:"generation"`
	State      JobState `json:"state,omitempty"`
	Seed       *int     `json:"seed,omitempty"`
}

// FaultedSubmission releases a job the worker could not generate.
func FaultedSubmission(id JobID) Submission {
	seed := -1
	return Submission{
		ID:         id,
		Generation: string(StateFaulted),
		State:      StateFaulted,
		Seed:       &seed,
	}
}
