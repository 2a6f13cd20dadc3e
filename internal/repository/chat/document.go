package chat

import (
	"time"

	"resident_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	messageDocument struct {
		ObjectID     primitive.ObjectID `bson:"_id,omitempty"`
		OwnerID      string             `bson:"owner_id"`
		PeerID       string             `bson:"peer_id"`
		ID           string             `bson:"id"`
		Text         string             `bson:"text,omitempty"`
		ImageAddress string             `bson:"image_address,omitempty"`
		Timestamp    time.Time          `bson:"timestamp"`
		SenderID     string             `bson:"sender_id"`
		IsRead       bool               `bson:"is_read"`
		Seq          int64              `bson:"seq"`
	}

	counterDocument struct {
		ID  string `bson:"_id"`
		Seq int64  `bson:"seq"`
	}
)

func logFilter(log model.ConversationID) bson.D {
	return bson.D{
		{Key: "owner_id", Value: log.Owner},
		{Key: "peer_id", Value: log.Peer},
	}
}

// insertFields is the part of a document written only when the copy is new.
// Fields matched by the upsert filter are left out.
func insertFields(msg *model.Message, seq int64) bson.D {
	d := bson.D{
		{Key: "timestamp", Value: msg.CreatedAt},
		{Key: "sender_id", Value: msg.SenderID},
		{Key: "is_read", Value: msg.Delivered},
		{Key: "seq", Value: seq},
	}
	if msg.Body != "" {
		d = append(d, bson.E{Key: "text", Value: msg.Body})
	}
	if msg.AttachmentAddress != "" {
		d = append(d, bson.E{Key: "image_address", Value: msg.AttachmentAddress})
	}
	return d
}

func (d *messageDocument) toModel() *model.Message {
	return &model.Message{
		ID:                d.ID,
		SenderID:          d.SenderID,
		Body:              d.Text,
		AttachmentAddress: d.ImageAddress,
		CreatedAt:         d.Timestamp.UTC(),
		Delivered:         d.IsRead,
		Seq:               d.Seq,
	}
}
