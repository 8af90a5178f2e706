package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/models"
)

// DefaultMenuTTL is how long a menu stays usable after its last use.
const DefaultMenuTTL = 5 * time.Minute

var (
	// ErrMenuExpired is returned by triggers pressed after the menu expired.
	ErrMenuExpired = errors.New("menu expired")
	// ErrMenuNotFound is returned for menu ids the registry does not hold.
	ErrMenuNotFound = errors.New("menu not found")
	// ErrUnknownTrigger is returned for triggers a menu does not offer.
	ErrUnknownTrigger = errors.New("unknown trigger")
)

// Trigger is one button of an action menu.
type Trigger string

const (
	TriggerStart     Trigger = "start"
	TriggerStop      Trigger = "stop"
	TriggerRestart   Trigger = "restart"
	TriggerReinstall Trigger = "reinstall"
	TriggerSSH       Trigger = "ssh"
)

// Triggers lists the menu buttons in display order.
var Triggers = []Trigger{TriggerStart, TriggerStop, TriggerRestart, TriggerReinstall, TriggerSSH}

// Valid reports whether t is one of Triggers.
func (t Trigger) Valid() bool {
	for _, v := range Triggers {
		if t == v {
			return true
		}
	}
	return false
}

// Label returns the button caption.
func (t Trigger) Label() string {
	switch t {
	case TriggerSSH:
		return "SSH Info"
	case TriggerReinstall:
		return "Reinstall"
	case TriggerRestart:
		return "Restart"
	case TriggerStop:
		return "Stop"
	case TriggerStart:
		return "Start"
	}
	return string(t)
}

// MenuState is the lifecycle state of a Menu.
type MenuState int

const (
	MenuActive MenuState = iota
	MenuExpired
)

func (s MenuState) String() string {
	if s == MenuActive {
		return "active"
	}
	return "expired"
}

// Menu is the set of controls bound to one VPS. It expires after ttl
// without use; once expired it never becomes active again.
type Menu struct {
	ID         string
	ResourceID string

	panel PanelClient
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	expiresAt time.Time
	expired   bool
}

// State reports whether the menu still accepts triggers.
func (m *Menu) State() MenuState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Menu) stateLocked() MenuState {
	if m.expired || !m.now().Before(m.expiresAt) {
		m.expired = true
		return MenuExpired
	}
	return MenuActive
}

// ExpiresAt returns when the menu expires unless used again.
func (m *Menu) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Press runs trigger against the bound VPS and whispers the result to the
// caller. An expired menu answers ExpiredMessage without calling the panel.
func (m *Menu) Press(ctx context.Context, conv Conversation, trigger Trigger) error {
	m.mu.Lock()
	if m.stateLocked() == MenuExpired {
		m.mu.Unlock()
		_ = conv.Whisper(ctx, ExpiredMessage)
		return ErrMenuExpired
	}
	if !trigger.Valid() {
		m.mu.Unlock()
		_ = conv.Whisper(ctx, fmt.Sprintf("❓ Unknown button %q.", trigger))
		return ErrUnknownTrigger
	}
	m.expiresAt = m.now().Add(m.ttl)
	m.mu.Unlock()

	pctx := context.WithoutCancel(ctx)
	switch trigger {
	case TriggerSSH:
		info, err := m.panel.GetSSHInfo(pctx, m.ResourceID)
		if err != nil {
			_ = conv.Whisper(ctx, describe(err))
			return err
		}
		return conv.Whisper(ctx, fmt.Sprintf("🔑 SSH for %s:\nHost: %s\nPort: %s\nCommand: %s",
			m.ResourceID, info.Host, info.Port, info.Command))
	case TriggerStart, TriggerStop, TriggerRestart, TriggerReinstall:
		res, err := m.panel.PerformAction(pctx, m.ResourceID, models.Action(trigger))
		if err != nil {
			_ = conv.Whisper(ctx, describe(err))
			return err
		}
		if err := conv.Whisper(ctx, res.Message); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s %s: action refused", trigger, m.ResourceID)
		}
		return nil
	}
	return ErrUnknownTrigger
}

// MenuRegistry holds the open menus by id.
type MenuRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	menus map[string]*Menu
}

// NewMenuRegistry returns an empty registry whose menus live for ttl
// after their last use.
func NewMenuRegistry(ttl time.Duration, now func() time.Time) *MenuRegistry {
	if now == nil {
		now = time.Now
	}
	return &MenuRegistry{ttl: ttl, now: now, menus: map[string]*Menu{}}
}

// Open creates and registers a menu bound to resourceID.
func (r *MenuRegistry) Open(p PanelClient, resourceID string) *Menu {
	m := &Menu{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		panel:      p,
		ttl:        r.ttl,
		now:        r.now,
		expiresAt:  r.now().Add(r.ttl),
	}
	r.mu.Lock()
	r.menus[m.ID] = m
	r.mu.Unlock()
	return m
}

// Get returns the menu with the given id.
func (r *MenuRegistry) Get(id string) (*Menu, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.menus[id]
	if !ok {
		return nil, ErrMenuNotFound
	}
	return m, nil
}

// Len returns the number of registered menus, expired or not.
func (r *MenuRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.menus)
}

// Sweep drops expired menus and returns how many were removed.
func (r *MenuRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, m := range r.menus {
		if m.State() == MenuExpired {
			delete(r.menus, id)
			removed++
		}
	}
	return removed
}

// StartMenuJanitor sweeps expired menus every interval until ctx is done.
func StartMenuJanitor(ctx context.Context, r *MenuRegistry, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					log.Debug("swept expired menus", zap.Int("removed", n))
				}
			}
		}
	}()
}
