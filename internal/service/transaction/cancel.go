package transaction

import (
	"context"

	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/txlog"
)

// Cancel moves a live slate to Cancelled, unlocks the inputs it reserved and
// drops the unconfirmed outputs it created.
func (s *Service) Cancel(_ context.Context, sess *session.Session, id uuid.UUID) (*slate.Slate, error) {
	var sl *slate.Slate
	var released int
	err := sess.Write(func(st *session.State) error {
		// Release only touches memory; a failed update below rolls it back.
		released = st.Outputs.Release(id)
		rec, err := st.Log.Update(id, eventCancelled, func(r *txlog.Record) error {
			if err := r.Slate.Cancel(); err != nil {
				return err
			}
			r.State = r.Slate.State
			return nil
		})
		if err != nil {
			return err
		}
		sl = rec.Slate
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	s.transition(sl)
	s.logger.WithField("slate_id", id).WithField("outputs", released).Info("slate cancelled")
	return sl, nil
}
