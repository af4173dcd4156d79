package events

import (
	"context"
	"errors"

	"github.com/evetabi/auction/internal/domain"
)

// Sink is anything that accepts auction events.
type Sink interface {
	Publish(ctx context.Context, evt domain.AuctionEvent) error
}

// Fanout delivers each event to every sink in order. One failing sink does
// not stop delivery to the rest; all failures are returned joined.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout. Nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) {
	if s != nil {
		f.sinks = append(f.sinks, s)
	}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish implements service.Publisher.
func (f *Fanout) Publish(ctx context.Context, evt domain.AuctionEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
