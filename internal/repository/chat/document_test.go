package chat

import (
	"testing"
	"time"

	"resident_chat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func storedDocument(t *testing.T, log model.ConversationID, msg *model.Message, seq int64) messageDocument {
	t.Helper()
	d := append(logFilter(log), bson.E{Key: "id", Value: msg.ID})
	d = append(d, insertFields(msg, seq)...)

	raw, err := bson.Marshal(d)
	require.NoError(t, err)

	var doc messageDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func TestInsertFields_ImageCopyHasNoText(t *testing.T) {
	msg := model.NewImageMessage("m1", "alice", "https://cdn/images/x.jpg", time.Now())

	fields := insertFields(msg, 3)
	m := fields.Map()
	_, hasText := m["text"]
	assert.False(t, hasText)
	assert.Equal(t, "https://cdn/images/x.jpg", m["image_address"])
	assert.Equal(t, int64(3), m["seq"])
	assert.Equal(t, false, m["is_read"])
}

func TestMessageDocument_ToModel(t *testing.T) {
	log := model.ConversationID{Owner: "bob", Peer: "alice"}
	msg := model.NewTextMessage("m1", "alice", "Merhaba", time.Now())

	doc := storedDocument(t, log, msg, 7)
	assert.Equal(t, "bob", doc.OwnerID)
	assert.Equal(t, "alice", doc.PeerID)

	got := doc.toModel()
	assert.True(t, msg.SamePayload(got))
	assert.Equal(t, int64(7), got.Seq)
}
