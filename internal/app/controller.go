package app

import (
	"context"

	"github.com/dkeye/relay/internal/core"
)

// Controller is what the transport adapter drives for one room kind.
//
// Admit runs the admission sequence and, on success, leaves the session
// Active with a live subscription and presence entry. HandleFrame processes
// one inbound client frame; all frame errors are soft (logged and dropped).
// Forward decides whether a bus event becomes a client frame for this
// session. Close runs the Closing sequence; it is idempotent.
type Controller interface {
	Admit(ctx context.Context, s *Session) error
	HandleFrame(ctx context.Context, s *Session, data core.Frame)
	Forward(s *Session, ev core.Event) (core.Frame, bool)
	Close(ctx context.Context, s *Session)
}
