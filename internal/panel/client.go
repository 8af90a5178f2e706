// Package panel drives the GVM panel through its HTML form interface. It
// owns the authenticated session and turns the panel's loosely formatted
// responses into typed results.
package panel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/models"
)

const (
	pathLogin  = "/login"
	pathCreate = "/create_vps"
	pathList   = "/list_vps"
	pathUser   = "/add_user"

	// maxBodyBytes caps how much of a panel response is read.
	maxBodyBytes = 4 << 20
	// logBodyBytes caps how much of a response body is logged.
	logBodyBytes = 500

	defaultTimeout = 30 * time.Second
)

// session is one authenticated cookie jar. Sessions are never mutated after
// creation; re-authenticating swaps in a new one.
type session struct {
	client *http.Client
}

// Client is the panel session client. It is safe for concurrent use.
type Client struct {
	baseURL   string
	creds     models.Credentials
	transport http.RoundTripper
	timeout   time.Duration
	log       *zap.Logger

	mu      sync.RWMutex
	current *session
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every panel request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTransport sets the round tripper shared by all sessions.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient returns a client for the panel at baseURL. No request is made
// until the first operation or an explicit Authenticate.
func NewClient(baseURL string, creds models.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		timeout: defaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return c
}

// Authenticate logs in with a fresh cookie jar and, on success, replaces the
// current session. It returns ErrAuthentication when the panel does not land
// on an authenticated page and ErrNetwork when it cannot be reached.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.authenticate(ctx)
	return err
}

func (c *Client) authenticate(ctx context.Context) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	s := &session{client: &http.Client{
		Transport: c.transport,
		Jar:       jar,
		Timeout:   c.timeout,
	}}

	form := url.Values{
		"username": {c.creds.Username},
		"password": {c.creds.Password},
	}
	resp, body, err := c.do(ctx, s, http.MethodPost, pathLogin, form)
	if err != nil {
		return nil, err
	}

	landed := strings.ToLower(resp.Request.URL.String())
	c.log.Debug("panel login",
		zap.Int("status", resp.StatusCode),
		zap.String("url", landed),
		zap.String("body", truncate(body)),
	)
	if resp.StatusCode != http.StatusOK ||
		!(strings.Contains(landed, "dashboard") || strings.Contains(strings.ToLower(body), "success")) {
		return nil, fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return s, nil
}

// Session reports whether an authenticated session is currently held.
func (c *Client) Session() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// CreateVPS authenticates, submits the creation form and parses the result.
// The returned record always has a non-empty ID.
func (c *Client) CreateVPS(ctx context.Context, spec models.VPSSpec) (*models.VPSRecord, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"name":             {spec.Name},
		"memory":           {strconv.Itoa(spec.MemoryGB)},
		"cpu":              {strconv.Itoa(spec.CPU)},
		"disk":             {strconv.Itoa(spec.DiskGB)},
		"os":               {spec.OS},
		"expiration":       {"30"},
		"bandwidth":        {"0"},
		"additional_ports": {""},
		"user":             {spec.User},
		"tags":             {spec.Tags},
		"custom_docker":    {""},
	}
	c.log.Info("creating vps",
		zap.String("name", spec.Name),
		zap.Int("memory_gb", spec.MemoryGB),
		zap.Int("cpu", spec.CPU),
		zap.Int("disk_gb", spec.DiskGB),
		zap.String("os", spec.OS),
		zap.String("user", spec.User),
	)
	resp, body, err := c.do(ctx, s, http.MethodPost, pathCreate, form)
	if err != nil {
		return nil, err
	}
	c.log.Debug("create response", zap.Int("status", resp.StatusCode), zap.String("body", truncate(body)))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	if !IsSuccess(body) {
		return nil, fmt.Errorf("%w: panel reported failure", ErrRejected)
	}

	rec := ParseCreation(body)
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: no VPS ID in response", ErrUnparsable)
	}
	if len(rec.Missing) > 0 {
		c.log.Warn("create response incomplete", zap.String("id", rec.ID), zap.Strings("missing", rec.Missing))
	}
	rec.Memory = fmt.Sprintf("%d GB", spec.MemoryGB)
	rec.CPU = fmt.Sprintf("%d Cores", spec.CPU)
	rec.Disk = fmt.Sprintf("%d GB", spec.DiskGB)
	rec.OS = spec.OS
	rec.SSHCommand = sshCommand(rec.Username, rec.SSHHost, rec.SSHPort)
	return &rec, nil
}

// ListVPS returns the panel's VPS rows. With scope.All every row is
// returned; otherwise rows are filtered on the owner column, and a panel
// without one yields ErrOwnerScopeUnsupported.
func (c *Client) ListVPS(ctx context.Context, scope models.ListScope) ([]models.VPSSummary, error) {
	if !scope.All && scope.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required for a scoped listing", ErrInvalidRequest)
	}
	s, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	resp, body, err := c.do(ctx, s, http.MethodGet, pathList, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	rows, hasOwner := ParseListing(body)
	if scope.All {
		return rows, nil
	}
	if !hasOwner {
		return nil, ErrOwnerScopeUnsupported
	}
	owned := make([]models.VPSSummary, 0, len(rows))
	for _, r := range rows {
		if strings.EqualFold(r.Owner, scope.Owner) {
			owned = append(owned, r)
		}
	}
	return owned, nil
}

// PerformAction runs action against the VPS id. Authentication and network
// failures are returned as errors; a panel refusal is an unsuccessful result.
func (c *Client) PerformAction(ctx context.Context, id string, action models.Action) (models.ActionResult, error) {
	if id == "" {
		return models.ActionResult{}, fmt.Errorf("%w: vps id is required", ErrInvalidRequest)
	}
	if !action.Valid() {
		return models.ActionResult{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, action)
	}
	s, err := c.authenticate(ctx)
	if err != nil {
		return models.ActionResult{}, err
	}

	path := "/vps/" + url.PathEscape(id) + "/" + string(action)
	resp, body, err := c.do(ctx, s, http.MethodPost, path, url.Values{})
	if err != nil {
		return models.ActionResult{}, err
	}
	c.log.Info("vps action", zap.String("id", id), zap.String("action", string(action)), zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusOK && IsSuccess(body) {
		return models.ActionResult{
			Success: true,
			Message: fmt.Sprintf("✅ VPS %s %s successfully.", id, action.Past()),
		}, nil
	}
	return models.ActionResult{
		Message: fmt.Sprintf("❌ Failed to %s VPS %s.", action, id),
	}, nil
}

// GetSSHInfo fetches the SSH connection details of a VPS. Missing fields are
// reported as models.NotAvailable.
func (c *Client) GetSSHInfo(ctx context.Context, id string) (models.SSHInfo, error) {
	if id == "" {
		return models.SSHInfo{}, fmt.Errorf("%w: vps id is required", ErrInvalidRequest)
	}
	s, err := c.authenticate(ctx)
	if err != nil {
		return models.SSHInfo{}, err
	}

	resp, body, err := c.do(ctx, s, http.MethodGet, "/vps/"+url.PathEscape(id)+"/ssh", nil)
	if err != nil {
		return models.SSHInfo{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.SSHInfo{}, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return ParseSSHInfo(body), nil
}

// AddUser creates a panel account with the given role.
func (c *Client) AddUser(ctx context.Context, username, email, password string, role models.Role) (models.ActionResult, error) {
	switch {
	case username == "" || email == "" || password == "":
		return models.ActionResult{}, fmt.Errorf("%w: username, email and password are required", ErrInvalidRequest)
	case !role.Valid():
		return models.ActionResult{}, fmt.Errorf("%w: role must be user or admin", ErrInvalidRequest)
	}
	s, err := c.authenticate(ctx)
	if err != nil {
		return models.ActionResult{}, err
	}

	form := url.Values{
		"username": {username},
		"email":    {email},
		"password": {password},
		"role":     {string(role)},
	}
	resp, body, err := c.do(ctx, s, http.MethodPost, pathUser, form)
	if err != nil {
		return models.ActionResult{}, err
	}
	c.log.Info("add user", zap.String("username", username), zap.String("role", string(role)), zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusOK && IsSuccess(body) {
		return models.ActionResult{
			Success: true,
			Message: fmt.Sprintf("✅ User %s added as %s.", username, role),
		}, nil
	}
	return models.ActionResult{
		Message: fmt.Sprintf("❌ Failed to add user %s.", username),
	}, nil
}

// Close drops the session and releases idle pooled connections.
func (c *Client) Close() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	if t, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

// do sends one request on session s. A nil form means GET without a body.
func (c *Client) do(ctx context.Context, s *session, method, path string, form url.Values) (*http.Response, string, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, "", fmt.Errorf("build %s request: %w", path, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %w", ErrNetwork, path, err)
	}
	return resp, string(data), nil
}

// secretInBody matches a password value, including one wrapped in markup
// such as "<b>Password:</b> x".
var secretInBody = regexp.MustCompile(`(?i)(password:\s*(?:<[^>]*>\s*)*)[^\s<]+`)

// truncate prepares a response body for logging: passwords are masked and
// the result is capped at logBodyBytes.
func truncate(s string) string {
	s = secretInBody.ReplaceAllString(s, "${1}***")
	if len(s) <= logBodyBytes {
		return s
	}
	cut := logBodyBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
