package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/repository/memstore"
	"resident_chat/internal/service/attachment"
	"resident_chat/internal/service/blob"
	"resident_chat/internal/service/convlog"
	"resident_chat/internal/service/engine"
	"resident_chat/internal/service/reconcile"
	"resident_chat/internal/service/subscription"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

// testUI stands in for the tview loop. Updates block until the test runs
// them, like QueueUpdateDraw before Application.Run.
type testUI struct {
	updates chan func()
}

func (u *testUI) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(waitFor)
	for !cond() {
		select {
		case f := <-u.updates:
			f()
		case <-deadline:
			t.Fatal("ui never reached the expected state")
		}
	}
}

func startSession(t *testing.T, store *memstore.Store) (*App, *testUI) {
	t.Helper()
	l := convlog.NewConversationLog(store, reconcile.NewMemoryQueue())
	uploads := attachment.NewPipeline(blob.NewMemory("http://blobs.test"), attachment.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	ui := &testUI{updates: make(chan func())}
	c := &App{
		chatbox: tview.NewTextView(),
		status:  tview.NewTextView(),
		input:   tview.NewInputField(),
		user:    &model.User{Name: "alice"},
		peer:    &model.User{Name: "bob"},
		conv:    model.ConversationID{Owner: "alice", Peer: "bob"},
		wake:    make(chan struct{}, 1),
		view:    newChatView("alice", "bob"),
	}
	c.draw = func(f func()) {
		select {
		case ui.updates <- f:
		case <-ctx.Done():
		}
	}
	c.engine = engine.New("alice", l, subscription.NewFeed(l), uploads, c)

	done := make(chan struct{})
	go func() {
		c.engine.Run(ctx)
		close(done)
	}()
	go c.pump(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, ui
}

func TestOpen_DoesNotWaitForUILoop(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	conv := model.ConversationID{Owner: "alice", Peer: "bob"}
	for i, body := range []string{"Merhaba", "Nasılsın?"} {
		msg := model.NewTextMessage(body, "bob", body, time.Unix(int64(1000+i), 0))
		require.NoError(t, store.Insert(ctx, conv, msg))
	}

	for i := 0; i < 50; i++ {
		c, ui := startSession(t, store)

		opened := make(chan error, 1)
		go func() { opened <- c.engine.Open(ctx, c.conv) }()
		select {
		case err := <-opened:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("open blocked on a UI loop that is not running")
		}

		ui.runUntil(t, func() bool { return strings.Contains(c.view.Render(), "Nasılsın?") })
	}
}

func TestQueue_KeepsOrderWithoutBlocking(t *testing.T) {
	c, ui := startSession(t, memstore.New())

	var got []int
	for i := 0; i < 200; i++ {
		c.queue(func() { got = append(got, i) })
	}
	ui.runUntil(t, func() bool { return len(got) == 200 })
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSend_KeepsInputOnFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.SetInsertHook(func(log model.ConversationID, msg *model.Message) error {
		return errors.New("connection refused")
	})
	c, ui := startSession(t, store)
	require.NoError(t, c.engine.Open(ctx, c.conv))

	c.input.SetText("Merhaba")
	c.send("Merhaba")

	ui.runUntil(t, func() bool { return strings.Contains(c.status.GetText(false), "send failed") })
	assert.Equal(t, "Merhaba", c.input.GetText())
	assert.Contains(t, c.status.GetText(false), "connection refused")
}

func TestSend_ClearsInputOnSuccess(t *testing.T) {
	ctx := context.Background()
	c, ui := startSession(t, memstore.New())
	require.NoError(t, c.engine.Open(ctx, c.conv))

	c.input.SetText("Merhaba")
	c.status.SetText("[red]send failed: earlier[-]")
	c.send("Merhaba")

	ui.runUntil(t, func() bool {
		return c.input.GetText() == "" && strings.Contains(c.view.Render(), "Merhaba")
	})
	assert.Empty(t, c.status.GetText(false))
}
