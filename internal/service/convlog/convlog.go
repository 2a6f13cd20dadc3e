// Package convlog appends messages to both mirrored logs of a conversation
// and exposes one participant's log as an ordered, watchable sequence.
package convlog

import (
	"context"
	"fmt"

	"resident_chat/internal/model"
	"resident_chat/internal/repository"
	"resident_chat/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// RepairQueue records mirror copies that still have to be written.
	RepairQueue interface {
		Enqueue(ctx context.Context, r *model.Repair) error
	}

	// Ack is the outcome of a successful Append. The owner's copy is always
	// stored; PeerPending means the peer's copy is not, and a repair was
	// queued for it (RepairErr is set if even that failed).
	Ack struct {
		MessageID   string
		PeerPending bool
		PeerErr     error
		RepairErr   error
	}

	ConversationLog struct {
		store   repository.LogStore
		repairs RepairQueue
	}
)

func NewConversationLog(store repository.LogStore, repairs RepairQueue) *ConversationLog {
	return &ConversationLog{
		store:   store,
		repairs: repairs,
	}
}

// Append writes msg to conv.Owner's log and then to conv.Peer's log.
//
// A failed first write returns *model.WriteError and the message counts as
// not sent. A failed second write is not an error: the sender sees the
// message, the peer does not until the reconciler copies it over.
func (l *ConversationLog) Append(ctx context.Context, conv model.ConversationID, msg *model.Message) (*Ack, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.SenderID != conv.Owner {
		return nil, fmt.Errorf("%w: %s in %s", model.ErrNotParticipant, msg.SenderID, conv)
	}

	if err := l.store.Insert(ctx, conv, msg); err != nil {
		return nil, &model.WriteError{Phase: model.PhaseOwner, Log: conv, Err: err}
	}

	ack := &Ack{MessageID: msg.ID}
	peer := conv.Mirror()
	if err := l.store.Insert(ctx, peer, msg); err != nil {
		ack.PeerPending = true
		ack.PeerErr = &model.WriteError{Phase: model.PhasePeer, Log: peer, Err: err}

		log.Warn("peer copy not written, queueing repair",
			zap.String("conversation", conv.String()),
			zap.String("message_id", msg.ID),
			zap.Error(err))

		if l.repairs == nil {
			ack.RepairErr = fmt.Errorf("no repair queue configured")
		} else {
			// the caller's ctx may be what failed the write
			ack.RepairErr = l.repairs.Enqueue(context.WithoutCancel(ctx), &model.Repair{Target: peer, Message: msg.Clone()})
		}
		if ack.RepairErr != nil {
			log.Error("queue repair failed, mirrors diverge until a full reconcile",
				zap.String("conversation", conv.String()),
				zap.String("message_id", msg.ID),
				zap.Error(ack.RepairErr))
		}
	}
	return ack, nil
}

// List returns conv.Owner's log in order.
func (l *ConversationLog) List(ctx context.Context, conv model.ConversationID) ([]*model.Message, error) {
	return l.store.List(ctx, conv)
}

// Stream opens a change stream on conv.Owner's log. Each change means the
// ordered snapshot returned by List may differ.
func (l *ConversationLog) Stream(ctx context.Context, conv model.ConversationID) (repository.ChangeStream, error) {
	return l.store.Watch(ctx, conv)
}
