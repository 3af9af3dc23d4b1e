package engine

import (
	"context"
	"sync"
	"time"
)

// Stage is a stable progress identifier. Presentation code matches on
// these values.
type Stage string

const (
	StageValidating         Stage = "validating"
	StagePublishingMetadata Stage = "publishing-metadata"
	StageBuilding           Stage = "building"
	StageAwaitingSignature  Stage = "awaiting-signature"
	StageConfirming         Stage = "confirming"
	StagePersisting         Stage = "persisting"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// Event is one entry of an operation's status stream. Failed events carry
// the error kind, reason and any known signature.
type Event struct {
	OperationID string    `json:"operation_id"`
	Operation   Operation `json:"operation"`
	Stage       Stage     `json:"stage"`
	Signature   string    `json:"signature,omitempty"`
	Mint        string    `json:"mint,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Reason      Reason    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Sink receives status events in order. Emit must not block for long; the
// pipeline waits on it.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiSink fans every event out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Recorder keeps every event it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Stages returns the recorded stages in order.
func (r *Recorder) Stages() []Stage {
	events := r.Events()
	out := make([]Stage, len(events))
	for i, ev := range events {
		out[i] = ev.Stage
	}
	return out
}
