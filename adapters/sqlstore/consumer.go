package sqlstore

import (
	"context"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/luno/reflex"

	"github.com/Dipanshu-verma/profilesync"
)

// RunEventFunc is called once for every status change of a run, in the order the changes were committed.
type RunEventFunc func(ctx context.Context, runID string, status profilesync.Status) error

// Consume runs a named reflex consumer over the run events until ctx is cancelled or fn returns an error. Progress is
// kept in cursors under the consumer name so a restarted consumer continues where it left off.
func (s *RunStore) Consume(ctx context.Context, name string, cursors reflex.CursorStore, fn RunEventFunc) error {
	stream := s.Stream()
	if stream == nil {
		return errors.Wrap(profilesync.ErrConfiguration, "run store has no events table")
	}

	consumer := reflex.NewConsumer(name, func(ctx context.Context, f fate.Fate, e *reflex.Event) error {
		return fn(ctx, e.ForeignID, profilesync.Status(e.Type.ReflexType()))
	})

	return reflex.Run(ctx, reflex.NewSpec(stream, cursors, consumer))
}
