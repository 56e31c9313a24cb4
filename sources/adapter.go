// Package sources hosts the per-tenant event-source adapters and the
// reconciliation manager that keeps the running set aligned with stored
// configuration. Adapters normalize whatever their transport delivers into
// model.Event and hand it to the pipeline with transport-appropriate
// ack semantics.
package sources

import (
	"context"

	"switchyard.dev/events"
	"switchyard.dev/model"
)

// EventSink accepts normalized events for processing. Satisfied by
// *worker.Pool via SubmitEvent.
type EventSink interface {
	SubmitEvent(ctx context.Context, event *model.Event, sctx events.SourceContext) error
}

// Adapter is one tenant-bound event source. Start blocks only for setup;
// consumption runs on the adapter's own goroutines until Stop.
type Adapter interface {
	Start(ctx context.Context) error
	Stop()
	Name() model.SourceName
}
