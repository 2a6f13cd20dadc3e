// Package reconcile repairs divergence between the two mirrored logs of a
// conversation, left behind when the second write of an append failed.
package reconcile

import (
	"context"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/utils/log"

	"go.uber.org/zap"
)

type (
	Store interface {
		Insert(ctx context.Context, log model.ConversationID, msg *model.Message) error
		List(ctx context.Context, log model.ConversationID) ([]*model.Message, error)
	}

	Reconciler struct {
		store Store
		queue Queue
	}

	Result struct {
		Repaired int `json:"repaired"`
		Requeued int `json:"requeued"`
		Lost     int `json:"lost"`
	}
)

func NewReconciler(store Store, queue Queue) *Reconciler {
	return &Reconciler{store: store, queue: queue}
}

// Drain applies every queued repair once. Repairs that fail again go back to
// the queue for the next pass.
func (r *Reconciler) Drain(ctx context.Context) (Result, error) {
	var res Result

	repairs, err := r.queue.Drain(ctx)
	if err != nil {
		return res, err
	}

	for _, rep := range repairs {
		err := r.store.Insert(ctx, rep.Target, rep.Message)
		if err == nil {
			res.Repaired++
			continue
		}

		log.Warn("repair failed, requeueing",
			zap.String("target", rep.Target.String()),
			zap.String("message_id", rep.Message.ID),
			zap.Error(err))
		if err := r.queue.Enqueue(context.WithoutCancel(ctx), rep); err != nil {
			log.Error("requeue repair failed",
				zap.String("target", rep.Target.String()),
				zap.String("message_id", rep.Message.ID),
				zap.Error(err))
			res.Lost++
			continue
		}
		res.Requeued++
	}
	return res, nil
}

// ReconcilePair compares both mirrors of conv and copies each message missing
// on one side from the other.
func (r *Reconciler) ReconcilePair(ctx context.Context, conv model.ConversationID) (Result, error) {
	var res Result
	if err := conv.Validate(); err != nil {
		return res, err
	}

	mine, err := r.store.List(ctx, conv)
	if err != nil {
		return res, err
	}
	theirs, err := r.store.List(ctx, conv.Mirror())
	if err != nil {
		return res, err
	}

	for _, fix := range []struct {
		target model.ConversationID
		have   []*model.Message
		from   []*model.Message
	}{
		{conv.Mirror(), theirs, mine},
		{conv, mine, theirs},
	} {
		for _, m := range missing(fix.have, fix.from) {
			if err := r.store.Insert(ctx, fix.target, m); err != nil {
				return res, err
			}
			res.Repaired++
		}
	}

	if res.Repaired > 0 {
		log.Info("mirrors reconciled", zap.String("conversation", conv.PairKey()), zap.Int("repaired", res.Repaired))
	}
	return res, nil
}

// Run drains the queue every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Drain(ctx)
			if err != nil {
				log.Error("drain repair queue failed", zap.Error(err))
				continue
			}
			if res != (Result{}) {
				log.Info("repair queue drained",
					zap.Int("repaired", res.Repaired),
					zap.Int("requeued", res.Requeued),
					zap.Int("lost", res.Lost))
			}
		}
	}
}

func missing(have, from []*model.Message) []*model.Message {
	ids := make(map[string]struct{}, len(have))
	for _, m := range have {
		ids[m.ID] = struct{}{}
	}

	var out []*model.Message
	for _, m := range from {
		if _, ok := ids[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}
