// Package repository declares the storage contracts shared by the mongo and
// in-process conversation log backends.
package repository

import (
	"context"

	"resident_chat/internal/model"
)

type (
	// ChangeStream signals that a watched log changed. *mongo.ChangeStream
	// satisfies it directly.
	ChangeStream interface {
		Next(ctx context.Context) bool
		Err() error
		Close(ctx context.Context) error
	}

	// LogStore holds the per-participant conversation logs.
	//
	// Insert is idempotent on (log, message id): inserting a copy that is
	// already present is a no-op. List returns the log ordered by timestamp,
	// then by the store-assigned sequence.
	LogStore interface {
		Insert(ctx context.Context, log model.ConversationID, msg *model.Message) error
		List(ctx context.Context, log model.ConversationID) ([]*model.Message, error)
		Watch(ctx context.Context, log model.ConversationID) (ChangeStream, error)
	}
)
