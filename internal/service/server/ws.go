package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/service/cache"
	"resident_chat/internal/service/convlog"
	"resident_chat/internal/service/engine"
	"resident_chat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	FrameSnapshot   = "snapshot"
	FrameAttachment = "attachment"
	FrameNotice     = "notice"
	FrameClosed     = "closed"
	FrameAck        = "ack"

	FrameText  = "text"
	FrameImage = "image"
)

const (
	writeWait   = 10 * time.Second
	outboxSize  = 64
	maxInbound  = 16 << 20
	sendTimeout = 30 * time.Second
)

type (
	// Frame is the single JSON shape exchanged on the conversation socket.
	Frame struct {
		Type        string           `json:"type"`
		Messages    []*model.Message `json:"messages,omitempty"`
		Address     string           `json:"address,omitempty"`
		Format      string           `json:"format,omitempty"`
		Width       int              `json:"width,omitempty"`
		Height      int              `json:"height,omitempty"`
		Text        string           `json:"text,omitempty"`
		Data        []byte           `json:"data,omitempty"`
		ContentType string           `json:"content_type,omitempty"`
		MessageID   string           `json:"message_id,omitempty"`
		PeerPending bool             `json:"peer_pending,omitempty"`
		Error       string           `json:"error,omitempty"`
	}

	// session is one websocket bound to one conversation view. It is the
	// engine's Listener; frames go through outbox to a single writer.
	session struct {
		conv   model.ConversationID
		conn   *websocket.Conn
		outbox chan *Frame
		ctx    context.Context
		cancel context.CancelFunc
	}
)

func (s *HttpServer) HandleConversationWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		conv, err := model.NewConversationID(q.Get("owner"), q.Get("peer"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("upgrade failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(maxInbound)

		ctx, cancel := context.WithCancel(r.Context())
		sess := &session{
			conv:   conv,
			conn:   conn,
			outbox: make(chan *Frame, outboxSize),
			ctx:    ctx,
			cancel: cancel,
		}

		opts := []engine.Option{}
		if s.deps.Images != nil {
			opts = append(opts, engine.WithImages(s.deps.Images))
		}
		eng := engine.New(conv.Owner, s.deps.Conversations, s.deps.Feed, s.deps.Uploads, sess, opts...)

		engineDone := make(chan struct{})
		go func() {
			eng.Run(ctx)
			close(engineDone)
		}()
		writerDone := make(chan struct{})
		go func() {
			sess.writeLoop()
			close(writerDone)
		}()

		log.Debug("conversation socket opened", zap.String("conversation", conv.String()))
		if err := eng.Open(ctx, conv); err != nil {
			log.Error("open conversation failed", zap.String("conversation", conv.String()), zap.Error(err))
			sess.push(&Frame{Type: FrameClosed, Error: err.Error()})
			// writeLoop returns once the frame is out or the peer is gone
			<-writerDone
		} else {
			sess.readLoop(eng)
		}

		cancel()
		<-engineDone
		<-writerDone
		conn.Close()
		log.Debug("conversation socket closed", zap.String("conversation", conv.String()))
	}
}

func (c *session) readLoop(eng *engine.Engine) {
	for {
		var in Frame
		if err := c.conn.ReadJSON(&in); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && c.ctx.Err() == nil {
				log.Debug("read frame failed", zap.String("conversation", c.conv.String()), zap.Error(err))
			}
			return
		}

		ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
		var (
			ack *convlog.Ack
			err error
		)
		switch in.Type {
		case FrameText:
			ack, err = eng.SendText(ctx, c.conv, in.Text)
		case FrameImage:
			ack, err = eng.SendImage(ctx, c.conv, in.Data, in.ContentType)
		default:
			c.push(&Frame{Type: FrameNotice, Error: "unknown frame type " + in.Type})
			cancel()
			continue
		}
		cancel()

		switch {
		case errors.Is(err, model.ErrEmptyBody):
			c.push(&Frame{Type: FrameNotice, Error: err.Error()})
		case err == nil:
			c.push(&Frame{Type: FrameAck, MessageID: ack.MessageID, PeerPending: ack.PeerPending})
		}
		// other failures arrive as notices through OnSendFailed
	}
}

func (c *session) writeLoop() {
	// unblocks readLoop
	defer c.conn.Close()

	for {
		select {
		case f := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				log.Debug("write frame failed", zap.String("conversation", c.conv.String()), zap.Error(err))
				c.cancel()
				return
			}
			if f.Type == FrameClosed {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, f.Error),
					time.Now().Add(writeWait))
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *session) push(f *Frame) {
	select {
	case c.outbox <- f:
	case <-c.ctx.Done():
	}
}

func (c *session) OnMessages(conv model.ConversationID, msgs []*model.Message) {
	c.push(&Frame{Type: FrameSnapshot, Messages: msgs})
}

func (c *session) OnAttachment(conv model.ConversationID, address string, img *cache.Image, err error) {
	f := &Frame{Type: FrameAttachment, Address: address}
	if err != nil {
		f.Error = err.Error()
	} else {
		f.Format, f.Width, f.Height = img.Format, img.Width, img.Height
	}
	c.push(f)
}

func (c *session) OnSendFailed(conv model.ConversationID, err error) {
	c.push(&Frame{Type: FrameNotice, Error: err.Error()})
}

func (c *session) OnFeedError(conv model.ConversationID, err error) {
	c.push(&Frame{Type: FrameClosed, Error: err.Error()})
}
