package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Default subjects.
const (
	SubjectStage = "planner.audit.stage"
	SubjectRun   = "planner.audit.run"
)

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes JSON events to NATS.
type NATSSink struct {
	pub          Publisher
	stageSubject string
	runSubject   string
}

// NATSOption configures a NATSSink.
type NATSOption func(*NATSSink)

// WithSubjects overrides the stage and run subjects.
func WithSubjects(stage, run string) NATSOption {
	return func(s *NATSSink) {
		if stage != "" {
			s.stageSubject = stage
		}
		if run != "" {
			s.runSubject = run
		}
	}
}

// NewNATSSink returns a sink publishing through pub.
func NewNATSSink(pub Publisher, opts ...NATSOption) (*NATSSink, error) {
	if pub == nil {
		return nil, errors.New("nats publisher is required")
	}
	s := &NATSSink{pub: pub, stageSubject: SubjectStage, runSubject: SubjectRun}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect dials url and returns a sink plus the connection to close.
func Connect(url string, opts ...NATSOption) (*NATSSink, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("planner-audit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	s, err := NewNATSSink(nc, opts...)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return s, nc, nil
}

// RecordStage implements Sink.
func (s *NATSSink) RecordStage(_ context.Context, ev StageEvent) error {
	return s.publish(s.stageSubject, ev)
}

// RecordRun implements Sink.
func (s *NATSSink) RecordRun(_ context.Context, r plan.RunReport) error {
	return s.publish(s.runSubject, r)
}

func (s *NATSSink) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
