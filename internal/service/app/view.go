package app

import (
	"fmt"
	"strings"

	"resident_chat/internal/model"
	"resident_chat/internal/service/cache"

	"github.com/rivo/tview"
)

// chatView is the rendered state of one conversation: the last snapshot and
// whatever attachment content has arrived for it.
type chatView struct {
	self     string
	peerName string
	messages []*model.Message
	images   map[string]*cache.Image
	failed   map[string]error
}

func newChatView(self, peerName string) *chatView {
	return &chatView{
		self:     self,
		peerName: peerName,
		images:   make(map[string]*cache.Image),
		failed:   make(map[string]error),
	}
}

func (v *chatView) SetMessages(msgs []*model.Message) {
	v.messages = msgs
}

func (v *chatView) SetAttachment(address string, img *cache.Image, err error) {
	if err != nil {
		v.failed[address] = err
		return
	}
	delete(v.failed, address)
	v.images[address] = img
}

func (v *chatView) Render() string {
	var b strings.Builder
	for _, m := range v.messages {
		if m.SenderID == v.self {
			b.WriteString("[yellow]You:[-] ")
		} else {
			fmt.Fprintf(&b, "[green]%s:[-] ", tview.Escape(v.peerName))
		}
		b.WriteString(v.body(m))
		b.WriteByte('\n')
	}
	return b.String()
}

func (v *chatView) body(m *model.Message) string {
	if !m.IsImage() {
		return tview.Escape(m.Body)
	}
	if img, ok := v.images[m.AttachmentAddress]; ok {
		return fmt.Sprintf("[blue]<image %dx%d %s>[-]", img.Width, img.Height, img.Format)
	}
	if _, ok := v.failed[m.AttachmentAddress]; ok {
		return "[red]<image unavailable>[-]"
	}
	return "[gray]<image loading>[-]"
}
