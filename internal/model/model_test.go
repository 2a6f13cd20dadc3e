package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
	}{
		{"text", NewTextMessage("1", "a", "Merhaba", now), false},
		{"image", NewImageMessage("1", "a", "https://cdn/x.jpg", now), false},
		{"nil", nil, true},
		{"no id", NewTextMessage("", "a", "hi", now), true},
		{"no sender", NewTextMessage("1", "", "hi", now), true},
		{"no timestamp", &Message{ID: "1", SenderID: "a", Body: "hi"}, true},
		{"blank body", NewTextMessage("1", "a", "   ", now), true},
		{"both", &Message{ID: "1", SenderID: "a", Body: "hi", AttachmentAddress: "x", CreatedAt: now}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLess_OrdersByTimestampThenSeq(t *testing.T) {
	t0 := Timestamp(time.Now())
	a := &Message{ID: "a", CreatedAt: t0, Seq: 2}
	b := &Message{ID: "b", CreatedAt: t0, Seq: 1}
	c := &Message{ID: "c", CreatedAt: t0.Add(-time.Millisecond), Seq: 9}

	assert.True(t, Less(b, a))
	assert.False(t, Less(a, b))
	assert.True(t, Less(c, b))
}

func TestMessage_SamePayloadIgnoresSeq(t *testing.T) {
	m := NewTextMessage("1", "a", "hi", time.Now())
	c := m.Clone()
	c.Seq = 42
	assert.True(t, m.SamePayload(c))

	c.Body = "other"
	assert.False(t, m.SamePayload(c))
}

func TestConversationID(t *testing.T) {
	c, err := NewConversationID("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, ConversationID{Owner: "bob", Peer: "alice"}, c.Mirror())
	assert.Equal(t, c.PairKey(), c.Mirror().PairKey())

	_, err = NewConversationID("alice", "alice")
	require.ErrorIs(t, err, ErrInvalidConversation)
	_, err = NewConversationID("", "bob")
	require.ErrorIs(t, err, ErrInvalidConversation)
}

func TestUser_InitialsAndPreview(t *testing.T) {
	u := &User{FullName: "ayşe yılmaz"}
	assert.Equal(t, "AY", u.Initials())
	assert.Equal(t, DefaultLastMessage, u.Preview())

	u = &User{Name: "b"}
	assert.Equal(t, "B", u.Initials())
}

func TestIsRetryable(t *testing.T) {
	boom := errors.New("boom")
	assert.False(t, IsRetryable(&EncodeError{Err: boom}))
	assert.False(t, IsRetryable(fmt.Errorf("send: %w", ErrEmptyBody)))
	assert.True(t, IsRetryable(&UploadError{Step: StepPut, Err: boom}))
	assert.True(t, IsRetryable(fmt.Errorf("send: %w", &WriteError{Phase: PhaseOwner, Err: boom})))
	assert.True(t, IsRetryable(&DecodeError{Key: "k", Err: boom}))
	assert.False(t, IsRetryable(boom))
}
