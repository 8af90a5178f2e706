package http

import (
	"context"
	"sync"

	"github.com/atinyakov/GVMBot/internal/gateway"
	"github.com/atinyakov/GVMBot/internal/models"
)

// Message channels.
const (
	ChannelPublic  = "public"
	ChannelPrivate = "private"
)

// Stream event types.
const (
	EventMessage = "message"
	EventEdit    = "edit"
	EventDone    = "done"
)

// Event is one line of a streamed transcript. Message and edit events carry
// the message as it is after the change; the done event carries the outcome.
type Event struct {
	Type    string             `json:"type"`
	Message *TranscriptMessage `json:"message,omitempty"`
	Outcome models.Outcome     `json:"outcome,omitempty"`
}

// Button is one control of a menu, with the route that presses it.
type Button struct {
	Trigger string `json:"trigger"`
	Label   string `json:"label"`
	Path    string `json:"path"`
}

// MenuView describes an action menu attached to a message.
type MenuView struct {
	ID         string   `json:"id"`
	ResourceID string   `json:"resource_id"`
	Buttons    []Button `json:"buttons"`
}

// TranscriptMessage is one reply produced while handling a request.
type TranscriptMessage struct {
	ID      int       `json:"id"`
	Channel string    `json:"channel"`
	Content string    `json:"content"`
	Edited  bool      `json:"edited,omitempty"`
	Menu    *MenuView `json:"menu,omitempty"`

	t *Transcript
}

// Edit replaces the content of a public message.
func (m *TranscriptMessage) Edit(_ context.Context, text string) error {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	m.Content = text
	m.Edited = true
	m.t.publish(EventEdit, m)
	return nil
}

// Transcript collects the replies of one request. Public and private
// messages are kept apart by channel so the caller's client decides what
// to show to whom.
type Transcript struct {
	mu       sync.Mutex
	messages []*TranscriptMessage

	// emit, when set, receives every change as it happens. It is called
	// with mu held so events arrive in the order they were made.
	emit func(Event)
}

// publish must be called with t.mu held.
func (t *Transcript) publish(kind string, m *TranscriptMessage) {
	if t.emit == nil {
		return
	}
	snapshot := *m
	snapshot.t = nil
	t.emit(Event{Type: kind, Message: &snapshot})
}

// finish emits the done event carrying outcome.
func (t *Transcript) finish(outcome models.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emit != nil {
		t.emit(Event{Type: EventDone, Outcome: outcome})
	}
}

var _ gateway.Conversation = (*Transcript)(nil)

func (t *Transcript) add(channel, text string, menu *MenuView) *TranscriptMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := &TranscriptMessage{ID: len(t.messages) + 1, Channel: channel, Content: text, Menu: menu, t: t}
	t.messages = append(t.messages, m)
	t.publish(EventMessage, m)
	return m
}

// Reply adds a public message.
func (t *Transcript) Reply(_ context.Context, text string) (gateway.Message, error) {
	return t.add(ChannelPublic, text, nil), nil
}

// ReplyMenu adds a public message carrying the controls of menu.
func (t *Transcript) ReplyMenu(_ context.Context, text string, menu *gateway.Menu) error {
	view := &MenuView{ID: menu.ID, ResourceID: menu.ResourceID}
	for _, tr := range gateway.Triggers {
		view.Buttons = append(view.Buttons, Button{
			Trigger: string(tr),
			Label:   tr.Label(),
			Path:    "/api/menus/" + menu.ID + "/" + string(tr),
		})
	}
	t.add(ChannelPublic, text, view)
	return nil
}

// Whisper adds a private message.
func (t *Transcript) Whisper(_ context.Context, text string) error {
	t.add(ChannelPrivate, text, nil)
	return nil
}

// Messages returns a snapshot of the collected messages.
func (t *Transcript) Messages() []TranscriptMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptMessage, len(t.messages))
	for i, m := range t.messages {
		out[i] = *m
		out[i].t = nil
	}
	return out
}
