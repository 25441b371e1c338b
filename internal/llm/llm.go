// Package llm defines the model client the pipeline uses for lane tasks and
// revisions, together with its implementations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindMalformed    ErrorKind = "malformed_json"
	KindRateLimited  ErrorKind = "rate_limited"
	KindProvider     ErrorKind = "provider"
	KindUnauthorized ErrorKind = "unauthorized"
)

// Retryable reports whether a call failing with k may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is the typed failure of a model call.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of kind k.
func Errorf(k ErrorKind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, classifying untyped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(Classify(err), &e) {
		return KindProvider
	}
	return e.Kind
}

// Classify wraps err in an *Error with a best-effort kind. Errors that are
// already typed are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindNetwork, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return &Error{Kind: KindRateLimited, Err: err}
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return &Error{Kind: KindUnauthorized, Err: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return &Error{Kind: KindNetwork, Err: err}
	}
	return &Error{Kind: KindProvider, Err: err}
}

// Request is one model call.
type Request struct {
	Kind    plan.PromptKind
	TaskID  string
	System  string
	Payload json.RawMessage
}

// Client completes requests with a JSON object.
type Client interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (json.RawMessage, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// TaskRequest builds the request for a pipeline prompt.
func TaskRequest(p plan.Prompt, prior []plan.PriorOutput) (Request, error) {
	payload := p.Payload
	payload.PriorOutputs = prior
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encoding payload for %s: %w", p.TaskID, err)
	}
	return Request{Kind: plan.PromptTask, TaskID: p.TaskID, System: p.System, Payload: raw}, nil
}

// DecodeTaskOutput parses a task response. Anything that is not a JSON
// object with a signal_groups array is malformed.
func DecodeTaskOutput(raw json.RawMessage) (plan.TaskOutput, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return plan.TaskOutput{}, &Error{Kind: KindMalformed, Err: err}
	}
	if _, ok := fields["signal_groups"]; !ok {
		return plan.TaskOutput{}, Errorf(KindMalformed, "response has no signal_groups")
	}
	var out plan.TaskOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return plan.TaskOutput{}, &Error{Kind: KindMalformed, Err: err}
	}
	return out, nil
}
