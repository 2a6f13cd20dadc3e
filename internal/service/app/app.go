package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/service/cache"
	"resident_chat/internal/service/engine"
	"resident_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	imageCommand = "/image "
	sendTimeout  = 30 * time.Second

	pageInitials = "initials"
	pageImage    = "image"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		status  *tview.TextView
		input   *tview.InputField
		avatar  *tview.Pages
		picture *tview.Image

		userRepo      UserStore
		conversations engine.Appender
		feed          engine.Subscriber
		uploads       engine.Uploader
		images        *cache.Loader[*cache.Image]

		engine *engine.Engine
		user   *model.User
		peer   *model.User
		conv   model.ConversationID

		stopped atomic.Bool

		// UI updates waiting for pump, in order
		mu      sync.Mutex
		pending []func()
		wake    chan struct{}
		draw    func(func())

		// touched on the UI goroutine only
		view *chatView
	}
)

func NewApp(userRepo UserStore, conversations engine.Appender, feed engine.Subscriber, uploads engine.Uploader, images *cache.Loader[*cache.Image]) *App {
	a := &App{
		app:           tview.NewApplication(),
		userRepo:      userRepo,
		conversations: conversations,
		feed:          feed,
		uploads:       uploads,
		images:        images,
		wake:          make(chan struct{}, 1),
	}
	a.draw = func(f func()) { a.app.QueueUpdateDraw(f) }
	return a
}

// Run signs name in, asks for the recipient and blocks in the UI until it
// is stopped.
func (c *App) Run(ctx context.Context, name string) error {
	user, err := c.getUserAndCreateIfNotExist(ctx, name)
	if err != nil {
		return fmt.Errorf("get user info: %w", err)
	}
	c.user = user

	peer, err := c.choosePeer(ctx, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	c.peer = peer

	c.conv, err = model.NewConversationID(c.user.Name, c.peer.Name)
	if err != nil {
		return err
	}
	c.view = newChatView(c.user.Name, displayName(c.peer))

	c.engine = engine.New(c.user.Name, c.conversations, c.feed, c.uploads, c, engine.WithImages(c.images))
	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pump(engineCtx)
	go c.engine.Run(engineCtx)

	c.buildUI()
	if err := c.engine.Open(ctx, c.conv); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	c.requestAvatar()

	// blocking
	err = c.app.Run()
	c.stopped.Store(true)
	if err != nil {
		return fmt.Errorf("cannot init app: %w", err)
	}
	return nil
}

func (c *App) Stop() {
	if c.stopped.Swap(true) {
		return
	}
	c.app.Stop()
}

func (c *App) buildUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", displayName(c.peer)))

	initials := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText("\n" + c.peer.Initials())
	c.picture = tview.NewImage()
	c.avatar = tview.NewPages().
		AddPage(pageInitials, initials, true, true).
		AddPage(pageImage, c.picture, true, false)
	c.avatar.SetBorder(true)

	c.status = tview.NewTextView().SetDynamicColors(true)

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message (/image <path> sends a picture) ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		go c.send(text)
	})

	header := tview.NewFlex().
		AddItem(c.avatar, 8, 0, false).
		AddItem(c.chatbox, 0, 1, false)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 0, 1, false).
		AddItem(c.status, 1, 0, false).
		AddItem(c.input, 3, 0, true)

	c.app.SetRoot(layout, true).SetFocus(c.input)
}

// send runs off the UI goroutine. On failure the input keeps its text so the
// user can retry.
func (c *App) send(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var err error
	if path, ok := strings.CutPrefix(text, imageCommand); ok {
		err = c.sendImage(ctx, strings.TrimSpace(path))
	} else {
		_, err = c.engine.SendText(ctx, c.conv, text)
	}
	if err != nil {
		// engine failures arrive through OnSendFailed
		return
	}

	c.queue(func() {
		if c.input.GetText() == text {
			c.input.SetText("")
		}
		c.status.SetText("")
	})
}

func (c *App) sendImage(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		c.notice("cannot read image: " + err.Error())
		return err
	}
	_, err = c.engine.SendImage(ctx, c.conv, data, http.DetectContentType(data))
	return err
}

func (c *App) requestAvatar() {
	if c.peer.ProfileImageURL == "" || c.images == nil {
		return
	}
	c.images.Request(c.peer.ProfileImageURL, func(img *cache.Image, err error) {
		if err != nil {
			log.Debug("avatar unavailable", zap.String("user", c.peer.Name), zap.Error(err))
			return
		}
		decoded, _, err := image.Decode(bytes.NewReader(img.Data))
		if err != nil {
			log.Debug("avatar undecodable", zap.String("user", c.peer.Name), zap.Error(err))
			return
		}
		c.queue(func() {
			c.picture.SetImage(decoded)
			c.avatar.SwitchToPage(pageImage)
		})
	})
}

func (c *App) notice(text string) {
	c.queue(func() {
		c.status.SetText("[red]" + tview.Escape(text) + "[-]")
	})
}

// queue hands f to the UI loop without waiting for it to run. Listener
// methods call it on the engine goroutine, which must not block on a UI loop
// that has not started yet or is busy.
func (c *App) queue(f func()) {
	if c.stopped.Load() {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, f)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pump feeds queued updates to the UI loop in order.
func (c *App) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, f := range batch {
			if c.stopped.Load() {
				return
			}
			c.draw(f)
		}
	}
}

func (c *App) redraw() {
	c.chatbox.SetText(c.view.Render())
	c.chatbox.ScrollToEnd()
}

func (c *App) OnMessages(conv model.ConversationID, msgs []*model.Message) {
	c.queue(func() {
		c.view.SetMessages(msgs)
		c.redraw()
	})
}

func (c *App) OnAttachment(conv model.ConversationID, address string, img *cache.Image, err error) {
	c.queue(func() {
		c.view.SetAttachment(address, img, err)
		c.redraw()
	})
}

func (c *App) OnSendFailed(conv model.ConversationID, err error) {
	c.notice("send failed: " + err.Error())
}

func (c *App) OnFeedError(conv model.ConversationID, err error) {
	log.Error("conversation closed", zap.String("conversation", conv.String()), zap.Error(err))
	c.queue(func() {
		c.status.SetText("[red]conversation closed: " + tview.Escape(err.Error()) + "[-]")
		c.input.SetDisabled(true)
	})
}
