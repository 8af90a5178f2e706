// Package gateway maps chat commands to panel operations. It applies the
// admin gate, renders results as chat replies and keeps the per-VPS action
// menus alive.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/authz"
	"github.com/atinyakov/GVMBot/internal/models"
	"github.com/atinyakov/GVMBot/internal/panel"
)

// Fixed replies.
const (
	DeniedMessage   = "❌ Access denied. Admin only."
	ExpiredMessage  = "⌛ This menu has expired. Run !manage again."
	UnlinkedMessage = "ℹ️ Your chat account is not linked to a panel user. Ask an admin to add it to the owner map."
	internalMessage = "❌ Something went wrong while running that command."
)

var (
	// ErrDenied is returned when a non-admin runs an admin-only command.
	ErrDenied = errors.New("access denied")
	// ErrUnknownCommand is returned for commands the gateway does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage is returned when a command's arguments are malformed.
	ErrUsage = errors.New("invalid arguments")
	// ErrUnlinked is returned by listvps when the caller has no panel user.
	ErrUnlinked = errors.New("caller not linked to a panel user")
	// ErrInternal is returned when a command panicked.
	ErrInternal = errors.New("internal error")
)

// PanelClient is the subset of the panel session client the gateway uses.
type PanelClient interface {
	CreateVPS(ctx context.Context, spec models.VPSSpec) (*models.VPSRecord, error)
	ListVPS(ctx context.Context, scope models.ListScope) ([]models.VPSSummary, error)
	PerformAction(ctx context.Context, id string, action models.Action) (models.ActionResult, error)
	GetSSHInfo(ctx context.Context, id string) (models.SSHInfo, error)
	AddUser(ctx context.Context, username, email, password string, role models.Role) (models.ActionResult, error)
}

// Auditor records the outcome of each command.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Message is a reply that can be edited after it was sent.
type Message interface {
	Edit(ctx context.Context, text string) error
}

// Conversation is the chat context a command was issued in.
type Conversation interface {
	// Reply posts text where the command was issued.
	Reply(ctx context.Context, text string) (Message, error)
	// ReplyMenu posts text with the interactive controls of menu.
	ReplyMenu(ctx context.Context, text string, menu *Menu) error
	// Whisper sends text to the invoking caller only.
	Whisper(ctx context.Context, text string) error
}

// BotInfo is reported by the botinfo command.
type BotInfo struct {
	Name    string
	Version string
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, models.AuditEntry) error { return nil }

// Gateway dispatches chat commands.
type Gateway struct {
	panel       PanelClient
	policy      authz.Policy
	menus       *MenuRegistry
	audit       Auditor
	log         *zap.Logger
	createDelay time.Duration
	sleep       func(time.Duration)
	now         func() time.Time
	owners      map[string]string
	info        BotInfo
	started     time.Time
	commands    map[string]command
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.log = l } }

// WithAuditor sets where command outcomes are recorded.
func WithAuditor(a Auditor) Option { return func(g *Gateway) { g.audit = a } }

// WithMenus sets the menu registry.
func WithMenus(r *MenuRegistry) Option { return func(g *Gateway) { g.menus = r } }

// WithCreateDelay sets the fixed wait before a creation is reported done.
func WithCreateDelay(d time.Duration) Option { return func(g *Gateway) { g.createDelay = d } }

// WithClock replaces time.Now and time.Sleep.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(g *Gateway) {
		g.now = now
		g.sleep = sleep
	}
}

// WithOwners maps chat caller ids to panel user names for listvps.
func WithOwners(owners map[string]string) Option { return func(g *Gateway) { g.owners = owners } }

// WithBotInfo sets what botinfo reports.
func WithBotInfo(info BotInfo) Option { return func(g *Gateway) { g.info = info } }

// New returns a gateway driving p and gating privileged commands with policy.
func New(p PanelClient, policy authz.Policy, opts ...Option) *Gateway {
	g := &Gateway{
		panel:       p,
		policy:      policy,
		audit:       nopAuditor{},
		log:         zap.NewNop(),
		createDelay: 10 * time.Second,
		sleep:       time.Sleep,
		now:         time.Now,
		info:        BotInfo{Name: "GVM VPS Bot", Version: "1.0"},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.menus == nil {
		g.menus = NewMenuRegistry(DefaultMenuTTL, g.now)
	}
	g.started = g.now()
	g.commands = g.commandTable()
	return g
}

// Menus returns the registry holding the gateway's action menus.
func (g *Gateway) Menus() *MenuRegistry { return g.menus }

// Handle runs one command line such as "!createvps web 2 1 20 ubuntu alice".
// Every outcome, including failures, is reported to the caller through conv;
// the returned error only classifies what happened.
func (g *Gateway) Handle(ctx context.Context, caller models.Caller, conv Conversation, line string) (err error) {
	name, args := splitCommand(line)
	cmd, ok := g.commands[name]
	if !ok {
		_, _ = conv.Reply(ctx, fmt.Sprintf("❓ Unknown command %q. Type !help for a list of commands.", name))
		return ErrUnknownCommand
	}

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("command panicked", zap.String("command", name), zap.Any("panic", r))
			_, _ = conv.Reply(ctx, internalMessage)
			err = ErrInternal
		}
		g.record(ctx, caller, name, args, err)
	}()

	if cmd.admin && !g.policy.IsAdmin(caller.ID) {
		g.log.Info("command denied", zap.String("command", name), zap.String("caller", caller.ID))
		_, _ = conv.Reply(ctx, DeniedMessage)
		return ErrDenied
	}
	if len(args) < cmd.minArgs {
		_, _ = conv.Reply(ctx, "Usage: "+cmd.usage)
		return ErrUsage
	}

	return cmd.run(ctx, call{caller: caller, conv: conv, args: args})
}

// Press invokes trigger on the menu with the given id. Replies go to the
// caller only.
func (g *Gateway) Press(ctx context.Context, caller models.Caller, conv Conversation, menuID string, trigger Trigger) error {
	m, err := g.menus.Get(menuID)
	if err != nil {
		_ = conv.Whisper(ctx, ExpiredMessage)
	} else {
		err = m.Press(ctx, conv, trigger)
	}
	g.record(ctx, caller, "menu:"+string(trigger), []string{menuID}, err)
	return err
}

func (g *Gateway) record(ctx context.Context, caller models.Caller, name string, args []string, err error) {
	entry := models.AuditEntry{
		CallerID: caller.ID,
		Command:  name,
		Args:     strings.Join(args, " "),
		Outcome:  OutcomeOf(err),
	}
	if aerr := g.audit.Record(context.WithoutCancel(ctx), entry); aerr != nil {
		g.log.Warn("audit record failed", zap.String("command", name), zap.Error(aerr))
	}
}

// OutcomeOf classifies the error returned by Handle or Press.
func OutcomeOf(err error) models.Outcome {
	switch {
	case err == nil:
		return models.OutcomeOK
	case errors.Is(err, ErrDenied), errors.Is(err, ErrUnlinked):
		return models.OutcomeDenied
	case errors.Is(err, ErrUsage), errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrUnknownTrigger), errors.Is(err, panel.ErrInvalidRequest):
		return models.OutcomeInvalid
	default:
		return models.OutcomeFailed
	}
}

// describe turns a panel error into the message shown to the caller.
func describe(err error) string {
	switch {
	case errors.Is(err, panel.ErrAuthentication):
		return "❌ Failed to authenticate with panel. Please check credentials."
	case errors.Is(err, panel.ErrNetwork):
		return "❌ Could not reach the panel. Please try again later."
	case errors.Is(err, panel.ErrUnparsable):
		return "❌ The panel answered but its response could not be read. Check the panel before retrying."
	case errors.Is(err, panel.ErrOwnerScopeUnsupported):
		return "ℹ️ This panel does not report VPS owners, so your own VPS cannot be listed. Ask an admin to run !listall."
	case errors.Is(err, panel.ErrRejected):
		return "❌ The panel reported a failure."
	case errors.Is(err, panel.ErrInvalidRequest):
		return "❌ " + err.Error()
	default:
		return internalMessage
	}
}

// splitCommand returns the lower-cased command name without its prefix and
// the whitespace separated arguments.
func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimLeft(fields[0], "!/")
	return strings.ToLower(name), fields[1:]
}
