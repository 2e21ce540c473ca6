package event

import (
	"context"
	"sync"

	"github.com/vidverse/vidverse-go/internal/model"
)

// Recorder is an in-process Publisher that keeps every envelope it receives.
// The conformance harness and tests subscribe through it instead of a NATS server.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Subject  string
	Envelope EventEnvelope
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) add(ctx context.Context, subject string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Subject: subject, Envelope: newEnvelope(ctx, subject, payload)})
}

// PublishAssetsStored implements Publisher.
func (r *Recorder) PublishAssetsStored(ctx context.Context, account string, result model.UploadResult) error {
	r.add(ctx, SubjectAssetsStored, AssetsStored{Account: account, Upload: result})
	return nil
}

// PublishTransaction implements Publisher.
func (r *Recorder) PublishTransaction(ctx context.Context, tx model.Transaction) error {
	r.add(ctx, LedgerSubject(tx.Status), tx)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Subjects returns the subjects published so far, in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Subject)
	}
	return out
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}
