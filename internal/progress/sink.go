package progress

import "context"

// Sink consumes batches of progress events. Implementations must tolerate
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// engine stays agnostic about how events are buffered or delivered.
type Emitter interface {
	Emit(evt Event)
	// EmitWait is used for events that must not be dropped, such as the
	// terminal event of a crawl.
	EmitWait(ctx context.Context, evt Event) error
}

// Nop is an Emitter that discards everything.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// EmitWait implements Emitter.
func (Nop) EmitWait(context.Context, Event) error { return nil }
