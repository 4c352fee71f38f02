package sinks

import (
	"context"

	"github.com/JakeFAU/sitecrawl/internal/progress"
)

// FuncSink adapts a callback into a Sink. The CLI uses it to render progress.
type FuncSink func(evt progress.Event)

// Consume invokes the callback once per event, in order.
func (f FuncSink) Consume(_ context.Context, batch []progress.Event) error {
	if f == nil {
		return nil
	}
	for _, evt := range batch {
		f(evt)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (FuncSink) Close(context.Context) error {
	return nil
}
