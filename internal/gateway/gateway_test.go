package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GVMBot/internal/authz"
	"github.com/atinyakov/GVMBot/internal/models"
	"github.com/atinyakov/GVMBot/internal/panel"
)

const adminID = "1405866008127864852"

var (
	admin = models.Caller{ID: adminID, Name: "root"}
	guest = models.Caller{ID: "42", Name: "alice"}
)

// fakePanel records calls and returns canned results.
type fakePanel struct {
	mu    sync.Mutex
	calls []string

	record    *models.VPSRecord
	createErr error
	rows      []models.VPSSummary
	listErr   error
	scopes    []models.ListScope
	action    models.ActionResult
	actionErr error
	ssh       models.SSHInfo
	sshErr    error
}

func (f *fakePanel) note(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePanel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePanel) CreateVPS(_ context.Context, spec models.VPSSpec) (*models.VPSRecord, error) {
	f.note("create %s", spec.Name)
	return f.record, f.createErr
}

func (f *fakePanel) ListVPS(_ context.Context, scope models.ListScope) ([]models.VPSSummary, error) {
	f.note("list")
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()
	return f.rows, f.listErr
}

func (f *fakePanel) PerformAction(_ context.Context, id string, action models.Action) (models.ActionResult, error) {
	f.note("%s %s", action, id)
	return f.action, f.actionErr
}

func (f *fakePanel) GetSSHInfo(_ context.Context, id string) (models.SSHInfo, error) {
	f.note("ssh %s", id)
	return f.ssh, f.sshErr
}

func (f *fakePanel) AddUser(_ context.Context, username, _, _ string, role models.Role) (models.ActionResult, error) {
	f.note("adduser %s %s", username, role)
	return f.action, f.actionErr
}

// fakeConv records what the gateway says, split by visibility.
type fakeConv struct {
	public  []*fakeMsg
	private []string
	menus   []*Menu
}

type fakeMsg struct {
	history []string
}

func (m *fakeMsg) Edit(_ context.Context, text string) error {
	m.history = append(m.history, text)
	return nil
}

func (m *fakeMsg) text() string { return m.history[len(m.history)-1] }

func (c *fakeConv) Reply(_ context.Context, text string) (Message, error) {
	m := &fakeMsg{history: []string{text}}
	c.public = append(c.public, m)
	return m, nil
}

func (c *fakeConv) ReplyMenu(ctx context.Context, text string, menu *Menu) error {
	c.menus = append(c.menus, menu)
	_, err := c.Reply(ctx, text)
	return err
}

func (c *fakeConv) Whisper(_ context.Context, text string) error {
	c.private = append(c.private, text)
	return nil
}

func (c *fakeConv) lastPublic() string {
	if len(c.public) == 0 {
		return ""
	}
	return c.public[len(c.public)-1].text()
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAuditor struct {
	entries []models.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e models.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func newTestGateway(p *fakePanel, opts ...Option) (*Gateway, *fakeClock, *recordingAuditor) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	aud := &recordingAuditor{}
	base := []Option{
		WithClock(clk.Now, clk.Sleep),
		WithAuditor(aud),
		WithCreateDelay(10 * time.Second),
	}
	return New(p, authz.NewAdminPolicy(adminID), append(base, opts...)...), clk, aud
}

var sampleRecord = &models.VPSRecord{
	ID: "ABC123", Username: "root", Password: "x9!z", SSHHost: "1.2.3.4", SSHPort: "2222",
	Status: "Running", Memory: "2 GB", CPU: "1 Cores", Disk: "20 GB", OS: "ubuntu",
	SSHCommand: "ssh root@1.2.3.4 -p 2222",
}

func TestAdminOnlyCommandsDeniedWithoutPanelCalls(t *testing.T) {
	lines := []string{
		"!deletevps X",
		"!createvps web 2 1 20 ubuntu alice",
		"!adduser bob bob@example.com pw user",
		"!addadmin bob",
		"!removeadmin bob",
		"!listall",
		"!createvps",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			p := &fakePanel{}
			g, _, aud := newTestGateway(p)
			conv := &fakeConv{}

			err := g.Handle(context.Background(), guest, conv, line)

			assert.ErrorIs(t, err, ErrDenied)
			assert.Equal(t, DeniedMessage, conv.lastPublic())
			assert.Empty(t, conv.private)
			assert.Zero(t, p.count(), "denied command reached the panel")
			require.Len(t, aud.entries, 1)
			assert.Equal(t, models.OutcomeDenied, aud.entries[0].Outcome)
		})
	}
}

func TestCreateVPS_PhasesAndPrivateSecrets(t *testing.T) {
	p := &fakePanel{record: sampleRecord}
	g, clk, aud := newTestGateway(p)
	conv := &fakeConv{}

	err := g.Handle(context.Background(), admin, conv, "!createvps web 2 1 20 ubuntu alice prod eu-west")
	require.NoError(t, err)

	require.Len(t, conv.public, 1)
	history := conv.public[0].history
	require.Len(t, history, 2)
	assert.Equal(t, ProcessingMessage, history[0])
	assert.Contains(t, history[1], "✅ VPS 'web' Created Successfully!")
	assert.Contains(t, history[1], "RAM: 2 GB | CPU: 1 Cores | Disk: 20 GB | OS: ubuntu")
	for _, h := range history {
		assert.NotContains(t, h, "x9!z", "password leaked into the public channel")
	}

	require.Len(t, conv.private, 1)
	assert.Contains(t, conv.private[0], "Password: x9!z")
	assert.Contains(t, conv.private[0], "VPS ID: ABC123")
	assert.Contains(t, conv.private[0], "SSH Command: ssh root@1.2.3.4 -p 2222")

	assert.Equal(t, []time.Duration{10 * time.Second}, clk.slept)
	assert.Equal(t, []string{"create web"}, p.calls)
	require.Len(t, aud.entries, 1)
	assert.Equal(t, models.OutcomeOK, aud.entries[0].Outcome)
	assert.Equal(t, "createvps", aud.entries[0].Command)
}

func TestCreateVPS_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", fmt.Errorf("%w: status 401", panel.ErrAuthentication), "could not reach or authenticate"},
		{"network", fmt.Errorf("%w: dial", panel.ErrNetwork), "could not reach or authenticate"},
		{"rejected", fmt.Errorf("%w: panel reported failure", panel.ErrRejected), "panel reported a failure"},
		{"no id", fmt.Errorf("%w: no VPS ID", panel.ErrUnparsable), "could not be read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePanel{createErr: tt.err}
			g, clk, aud := newTestGateway(p)
			conv := &fakeConv{}

			err := g.Handle(context.Background(), admin, conv, "createvps web 2 1 20 ubuntu alice")

			assert.ErrorIs(t, err, tt.err)
			require.Len(t, conv.public, 1)
			assert.Contains(t, conv.public[0].text(), tt.want)
			assert.Empty(t, conv.private, "no credentials message on failure")
			assert.Empty(t, clk.slept)
			assert.Equal(t, models.OutcomeFailed, aud.entries[0].Outcome)
		})
	}
}

func TestCreateVPS_BadSizes(t *testing.T) {
	for _, line := range []string{
		"!createvps web two 1 20 ubuntu alice",
		"!createvps web 2 0 20 ubuntu alice",
		"!createvps web 2 1 -5 ubuntu alice",
	} {
		p := &fakePanel{record: sampleRecord}
		g, _, aud := newTestGateway(p)
		conv := &fakeConv{}

		err := g.Handle(context.Background(), admin, conv, line)

		assert.ErrorIs(t, err, ErrUsage, line)
		assert.Contains(t, conv.lastPublic(), "Usage: !createvps", line)
		assert.Zero(t, p.count(), line)
		assert.Equal(t, models.OutcomeInvalid, aud.entries[0].Outcome)
	}
}

func TestCreateVPS_MissingArgs(t *testing.T) {
	p := &fakePanel{}
	g, _, _ := newTestGateway(p)
	conv := &fakeConv{}

	err := g.Handle(context.Background(), admin, conv, "!createvps web 2 1")
	assert.ErrorIs(t, err, ErrUsage)
	assert.Equal(t, "Usage: !createvps <name> <ram> <cpu> <disk> <os> <user> [tags]", conv.lastPublic())
	assert.Zero(t, p.count())
}

func TestDeleteVPS(t *testing.T) {
	p := &fakePanel{action: models.ActionResult{Success: true, Message: "✅ VPS X deleted successfully."}}
	g, _, _ := newTestGateway(p)
	conv := &fakeConv{}

	require.NoError(t, g.Handle(context.Background(), admin, conv, "!deletevps X"))
	assert.Equal(t, "✅ VPS X deleted successfully.", conv.lastPublic())
	assert.Equal(t, []string{"delete X"}, p.calls)

	p.action = models.ActionResult{Message: "❌ Failed to delete VPS X."}
	err := g.Handle(context.Background(), admin, conv, "!deletevps X")
	assert.ErrorIs(t, err, panel.ErrRejected)
	assert.Equal(t, "❌ Failed to delete VPS X.", conv.lastPublic())
}

func TestAddUser(t *testing.T) {
	p := &fakePanel{action: models.ActionResult{Success: true, Message: "✅ User bob added as admin."}}
	g, _, _ := newTestGateway(p)
	conv := &fakeConv{}

	require.NoError(t, g.Handle(context.Background(), admin, conv, "!adduser bob bob@example.com hunter2 Admin"))
	assert.Equal(t, []string{"adduser bob admin"}, p.calls)
	assert.NotContains(t, conv.lastPublic(), "hunter2")

	err := g.Handle(context.Background(), admin, conv, "!adduser bob bob@example.com hunter2 owner")
	assert.ErrorIs(t, err, ErrUsage)
	assert.Len(t, p.calls, 1)
}

func TestAdminManagementIsNoOp(t *testing.T) {
	p := &fakePanel{}
	g, _, _ := newTestGateway(p)
	conv := &fakeConv{}

	require.NoError(t, g.Handle(context.Background(), admin, conv, "!addadmin bob"))
	require.NoError(t, g.Handle(context.Background(), admin, conv, "!removeadmin bob"))
	assert.Contains(t, conv.lastPublic(), "No change was made")
	assert.Zero(t, p.count())
}

func TestListOwnUsesOwnerScope(t *testing.T) {
	p := &fakePanel{rows: []models.VPSSummary{
		{ID: "A1", Name: "web", Status: "Running", Memory: "2 GB", CPU: "2", Disk: "20 GB", Owner: "alice"},
	}}
	g, _, _ := newTestGateway(p, WithOwners(map[string]string{"42": "alice", "7": "carol"}))
	conv := &fakeConv{}

	require.NoError(t, g.Handle(context.Background(), guest, conv, "!listvps"))
	assert.Contains(t, conv.lastPublic(), "**ID:** A1 | **Name:** web")
	assert.Contains(t, conv.lastPublic(), "**Owner:** alice")

	require.NoError(t, g.Handle(context.Background(), models.Caller{ID: "7", Name: "alice"}, conv, "!listvps"))
	assert.Equal(t, []models.ListScope{{Owner: "alice"}, {Owner: "carol"}}, p.scopes,
		"the owner map decides, not the display name")
}

func TestListOwnRequiresLinkedAccount(t *testing.T) {
	p := &fakePanel{rows: []models.VPSSummary{{ID: "A1", Owner: "alice"}}}
	g, _, aud := newTestGateway(p, WithOwners(map[string]string{"100": "alice"}))
	conv := &fakeConv{}

	// The display name matches a linked panel user but the chat id does not.
	err := g.Handle(context.Background(), models.Caller{ID: "999", Name: "ALICE"}, conv, "!listvps")

	assert.ErrorIs(t, err, ErrUnlinked)
	assert.Equal(t, UnlinkedMessage, conv.lastPublic())
	assert.Zero(t, p.count(), "unlinked caller reached the panel")
	assert.Equal(t, models.OutcomeDenied, aud.entries[0].Outcome)
}

func TestListOwnWithoutOwnerColumn(t *testing.T) {
	p := &fakePanel{listErr: panel.ErrOwnerScopeUnsupported}
	g, _, _ := newTestGateway(p, WithOwners(map[string]string{"42": "alice"}))
	conv := &fakeConv{}

	err := g.Handle(context.Background(), guest, conv, "listvps")
	assert.ErrorIs(t, err, panel.ErrOwnerScopeUnsupported)
	assert.Contains(t, conv.lastPublic(), "!listall")
}

func TestListAll(t *testing.T) {
	p := &fakePanel{}
	g, _, _ := newTestGateway(p)
	conv := &fakeConv{}

	require.NoError(t, g.Handle(context.Background(), admin, conv, "!listall"))
	assert.Equal(t, "No VPS to show.", conv.lastPublic())
	assert.Equal(t, []models.ListScope{{All: true}}, p.scopes)
}

func TestInformationalCommands(t *testing.T) {
	p := &fakePanel{}
	g, clk, _ := newTestGateway(p)
	conv := &fakeConv{}
	ctx := context.Background()

	require.NoError(t, g.Handle(ctx, guest, conv, "!ping"))
	assert.Equal(t, "🏓 Pong!", conv.lastPublic())

	clk.Advance(26*time.Hour + 3*time.Minute + 4*time.Second)
	require.NoError(t, g.Handle(ctx, guest, conv, "!BotInfo"))
	assert.Equal(t, "🤖 GVM VPS Bot\nVersion: 1.0\nUptime: 1d 2h 3m 4s", conv.lastPublic())

	require.NoError(t, g.Handle(ctx, guest, conv, "/help"))
	help := conv.lastPublic()
	assert.True(t, strings.HasPrefix(help, "📖 Commands:"))
	assert.Contains(t, help, "`!deletevps <id>` - delete a VPS (admin)")
	assert.Contains(t, help, "`!manage <id>` - open the action menu of a VPS\n")

	assert.Zero(t, p.count())
}

func TestUnknownCommand(t *testing.T) {
	p := &fakePanel{}
	g, _, aud := newTestGateway(p)
	conv := &fakeConv{}

	err := g.Handle(context.Background(), admin, conv, "!format c:")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, conv.lastPublic(), "Unknown command")
	assert.Empty(t, aud.entries)
}

type panickingPanel struct{ fakePanel }

func (p *panickingPanel) ListVPS(context.Context, models.ListScope) ([]models.VPSSummary, error) {
	panic("boom")
}

func TestPanicIsContained(t *testing.T) {
	g, _, aud := newTestGateway(nil)
	g.panel = &panickingPanel{}
	conv := &fakeConv{}

	err := g.Handle(context.Background(), admin, conv, "!listall")
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, internalMessage, conv.lastPublic())
	assert.Equal(t, models.OutcomeFailed, aud.entries[0].Outcome)
}
