package ledger

import (
	"context"
	"errors"

	"github.com/fentz26/showerflow/internal/models"
)

// Sink receives ledger events.
type Sink interface {
	Record(ctx context.Context, e models.LedgerEntry) error
}

// Recorder fans every event out to several sinks, the ledger store first.
// A failing sink does not stop the others.
type Recorder struct {
	sinks []Sink
}

// NewRecorder returns a recorder writing to sinks in order. Nil sinks are
// ignored.
func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record delivers e to every sink.
func (r *Recorder) Record(ctx context.Context, e models.LedgerEntry) error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e models.LedgerEntry) error

func (f SinkFunc) Record(ctx context.Context, e models.LedgerEntry) error { return f(ctx, e) }
