package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/models"
	"github.com/atinyakov/GVMBot/internal/panel"
)

// ProcessingMessage is the placeholder posted while a VPS is being created.
const ProcessingMessage = "🔄 Creating VPS... (Processing)"

type call struct {
	caller models.Caller
	conv   Conversation
	args   []string
}

type command struct {
	usage   string
	summary string
	admin   bool
	minArgs int
	run     func(ctx context.Context, c call) error
}

func (g *Gateway) commandTable() map[string]command {
	return map[string]command{
		"ping": {
			usage: "!ping", summary: "check the bot is alive",
			run: g.ping,
		},
		"botinfo": {
			usage: "!botinfo", summary: "show bot version and uptime",
			run: g.botInfo,
		},
		"help": {
			usage: "!help", summary: "list commands",
			run: g.help,
		},
		"listvps": {
			usage: "!listvps", summary: "list your VPS",
			run: g.listOwn,
		},
		"listall": {
			usage: "!listall", summary: "list every VPS on the panel",
			admin: true, run: g.listAll,
		},
		"createvps": {
			usage:   "!createvps <name> <ram> <cpu> <disk> <os> <user> [tags]",
			summary: "create a VPS; credentials are sent to you privately",
			admin:   true, minArgs: 6, run: g.createVPS,
		},
		"deletevps": {
			usage: "!deletevps <id>", summary: "delete a VPS",
			admin: true, minArgs: 1, run: g.deleteVPS,
		},
		"adduser": {
			usage: "!adduser <user> <email> <pass> <role>", summary: "create a panel account (role: user or admin)",
			admin: true, minArgs: 4, run: g.addUser,
		},
		"addadmin": {
			usage: "!addadmin <user>", summary: "promote a bot admin",
			admin: true, minArgs: 1, run: g.manageAdmins,
		},
		"removeadmin": {
			usage: "!removeadmin <user>", summary: "demote a bot admin",
			admin: true, minArgs: 1, run: g.manageAdmins,
		},
		"manage": {
			usage: "!manage <id>", summary: "open the action menu of a VPS",
			minArgs: 1, run: g.manage,
		},
	}
}

func (g *Gateway) ping(ctx context.Context, c call) error {
	_, err := c.conv.Reply(ctx, "🏓 Pong!")
	return err
}

func (g *Gateway) botInfo(ctx context.Context, c call) error {
	text := fmt.Sprintf("🤖 %s\nVersion: %s\nUptime: %s", g.info.Name, g.info.Version, uptime(g.now().Sub(g.started)))
	_, err := c.conv.Reply(ctx, text)
	return err
}

func (g *Gateway) help(ctx context.Context, c call) error {
	names := make([]string, 0, len(g.commands))
	for name := range g.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("📖 Commands:\n")
	for _, name := range names {
		cmd := g.commands[name]
		fmt.Fprintf(&sb, "• `%s` - %s", cmd.usage, cmd.summary)
		if cmd.admin {
			sb.WriteString(" (admin)")
		}
		sb.WriteByte('\n')
	}
	_, err := c.conv.Reply(ctx, strings.TrimRight(sb.String(), "\n"))
	return err
}

// listOwn lists the VPS of the panel user linked to the caller's chat id.
// Display names are chosen by the caller, so only the owner map counts.
func (g *Gateway) listOwn(ctx context.Context, c call) error {
	owner := g.owners[c.caller.ID]
	if owner == "" {
		_, _ = c.conv.Reply(ctx, UnlinkedMessage)
		return ErrUnlinked
	}
	return g.list(ctx, c, models.ListScope{Owner: owner})
}

func (g *Gateway) listAll(ctx context.Context, c call) error {
	return g.list(ctx, c, models.ListScope{All: true})
}

func (g *Gateway) list(ctx context.Context, c call, scope models.ListScope) error {
	rows, err := g.panel.ListVPS(context.WithoutCancel(ctx), scope)
	if err != nil {
		g.log.Warn("list vps failed", zap.Bool("all", scope.All), zap.Error(err))
		_, _ = c.conv.Reply(ctx, describe(err))
		return err
	}
	_, err = c.conv.Reply(ctx, formatList(rows))
	return err
}

func formatList(rows []models.VPSSummary) string {
	if len(rows) == 0 {
		return "No VPS to show."
	}
	var sb strings.Builder
	sb.WriteString("📋 VPS List:")
	for _, r := range rows {
		fmt.Fprintf(&sb, "\n• **ID:** %s | **Name:** %s | **Status:** %s | **RAM:** %s | **CPU:** %s | **Disk:** %s",
			r.ID, r.Name, r.Status, r.Memory, r.CPU, r.Disk)
		if r.Owner != "" {
			fmt.Fprintf(&sb, " | **Owner:** %s", r.Owner)
		}
	}
	return sb.String()
}

func (g *Gateway) createVPS(ctx context.Context, c call) error {
	spec, err := parseSpec(c.args)
	if err != nil {
		_, _ = c.conv.Reply(ctx, "❌ "+err.Error()+"\nUsage: "+g.commands["createvps"].usage)
		return err
	}

	msg, err := c.conv.Reply(ctx, ProcessingMessage)
	if err != nil {
		return err
	}

	rec, err := g.panel.CreateVPS(context.WithoutCancel(ctx), spec)
	if err != nil {
		g.log.Warn("create vps failed", zap.String("name", spec.Name), zap.Error(err))
		_ = msg.Edit(ctx, createFailure(err))
		return err
	}

	// Acceptance is not readiness; the panel keeps provisioning after it answers.
	if g.createDelay > 0 {
		g.sleep(g.createDelay)
	}

	summary := fmt.Sprintf("✅ VPS '%s' Created Successfully!\nRAM: %s | CPU: %s | Disk: %s | OS: %s",
		spec.Name, rec.Memory, rec.CPU, rec.Disk, rec.OS)
	if err := msg.Edit(ctx, summary); err != nil {
		g.log.Warn("edit placeholder failed", zap.Error(err))
	}

	if err := c.conv.Whisper(ctx, formatCredentials(spec.Name, rec)); err != nil {
		g.log.Warn("send credentials failed", zap.String("caller", c.caller.ID), zap.Error(err))
		_, _ = c.conv.Reply(ctx, "⚠️ Could not send you a direct message with the VPS details. Open your DMs and use !manage "+rec.ID+" to fetch SSH info.")
		return err
	}
	return nil
}

func createFailure(err error) string {
	switch {
	case errors.Is(err, panel.ErrAuthentication), errors.Is(err, panel.ErrNetwork):
		return "❌ Failed to create VPS: could not reach or authenticate with the panel."
	case errors.Is(err, panel.ErrRejected):
		return "❌ Failed to create VPS: the panel reported a failure."
	default:
		return strings.Replace(describe(err), "❌ ", "❌ Failed to create VPS. ", 1)
	}
}

func parseSpec(args []string) (models.VPSSpec, error) {
	spec := models.VPSSpec{
		Name: args[0],
		OS:   args[4],
		User: args[5],
		Tags: strings.Join(args[6:], " "),
	}
	sizes := []struct {
		label string
		raw   string
		dst   *int
	}{
		{"ram", args[1], &spec.MemoryGB},
		{"cpu", args[2], &spec.CPU},
		{"disk", args[3], &spec.DiskGB},
	}
	for _, s := range sizes {
		n, err := strconv.Atoi(s.raw)
		if err != nil || n <= 0 {
			return models.VPSSpec{}, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrUsage, s.label, s.raw)
		}
		*s.dst = n
	}
	return spec, nil
}

func formatCredentials(name string, rec *models.VPSRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔒 VPS Details for %s\n", name)
	fmt.Fprintf(&sb, "VPS ID: %s\n", rec.ID)
	fmt.Fprintf(&sb, "Username: %s\n", rec.Username)
	fmt.Fprintf(&sb, "Password: %s\n", rec.Password)
	fmt.Fprintf(&sb, "SSH Host: %s\n", rec.SSHHost)
	fmt.Fprintf(&sb, "SSH Port: %s\n", rec.SSHPort)
	fmt.Fprintf(&sb, "Status: %s\n", rec.Status)
	fmt.Fprintf(&sb, "SSH Command: %s", rec.SSHCommand)
	if len(rec.Missing) > 0 {
		fmt.Fprintf(&sb, "\n⚠️ The panel did not report: %s", strings.Join(rec.Missing, ", "))
	}
	return sb.String()
}

func (g *Gateway) deleteVPS(ctx context.Context, c call) error {
	id := c.args[0]
	res, err := g.panel.PerformAction(context.WithoutCancel(ctx), id, models.ActionDelete)
	if err != nil {
		_, _ = c.conv.Reply(ctx, describe(err))
		return err
	}
	_, _ = c.conv.Reply(ctx, res.Message)
	if !res.Success {
		return fmt.Errorf("delete %s: %w", id, panel.ErrRejected)
	}
	return nil
}

func (g *Gateway) addUser(ctx context.Context, c call) error {
	username, email, password, role := c.args[0], c.args[1], c.args[2], models.Role(strings.ToLower(c.args[3]))
	if !role.Valid() {
		_, _ = c.conv.Reply(ctx, "❌ role must be user or admin\nUsage: "+g.commands["adduser"].usage)
		return ErrUsage
	}
	res, err := g.panel.AddUser(context.WithoutCancel(ctx), username, email, password, role)
	if err != nil {
		_, _ = c.conv.Reply(ctx, describe(err))
		return err
	}
	_, _ = c.conv.Reply(ctx, res.Message)
	if !res.Success {
		return fmt.Errorf("add user %s: %w", username, panel.ErrRejected)
	}
	return nil
}

// manageAdmins backs addadmin and removeadmin. The admin identity comes from
// configuration, so both are acknowledged without effect.
func (g *Gateway) manageAdmins(ctx context.Context, c call) error {
	_, err := c.conv.Reply(ctx, "ℹ️ Admin management is not supported: the admin is fixed by configuration. No change was made.")
	return err
}

func (g *Gateway) manage(ctx context.Context, c call) error {
	id := c.args[0]
	m := g.menus.Open(g.panel, id)
	g.log.Debug("menu opened", zap.String("menu", m.ID), zap.String("vps", id))
	return c.conv.ReplyMenu(ctx, fmt.Sprintf("🔧 Manage VPS %s\nClick a button below:", id), m)
}

func uptime(d time.Duration) string {
	sec := int(d.Seconds())
	days, sec := sec/86400, sec%86400
	hrs, sec := sec/3600, sec%3600
	mins, sec := sec/60, sec%60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hrs, mins, sec)
}
