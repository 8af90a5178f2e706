// Package client talks to the bot API on behalf of an operator.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTimeout covers the creation delay plus the panel round trips.
const DefaultTimeout = 2 * time.Minute

// streamMediaType asks the bot to stream replies as they are made.
const streamMediaType = "application/x-ndjson"

// Event types of a streamed transcript.
const (
	EventMessage = "message"
	EventEdit    = "edit"
	EventDone    = "done"
)

// Button is one control of a menu.
type Button struct {
	Trigger string `json:"trigger"`
	Label   string `json:"label"`
	Path    string `json:"path"`
}

// Menu is the action menu attached to a message.
type Menu struct {
	ID         string   `json:"id"`
	ResourceID string   `json:"resource_id"`
	Buttons    []Button `json:"buttons"`
}

// Message is one reply of a transcript.
type Message struct {
	ID      int    `json:"id"`
	Channel string `json:"channel"`
	Content string `json:"content"`
	Edited  bool   `json:"edited,omitempty"`
	Menu    *Menu  `json:"menu,omitempty"`
}

// Transcript is what the bot answered to one request.
type Transcript struct {
	Outcome  string    `json:"outcome"`
	Messages []Message `json:"messages"`
}

// Event is one change of a transcript while the command runs.
type Event struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Outcome string   `json:"outcome,omitempty"`
}

// apply folds e into t.
func (t *Transcript) apply(e Event) error {
	switch e.Type {
	case EventMessage:
		if e.Message == nil {
			return errors.New("message event without a message")
		}
		t.Messages = append(t.Messages, *e.Message)
	case EventEdit:
		if e.Message == nil {
			return errors.New("edit event without a message")
		}
		for i := range t.Messages {
			if t.Messages[i].ID == e.Message.ID {
				t.Messages[i] = *e.Message
				return nil
			}
		}
		return fmt.Errorf("edit of unknown message %d", e.Message.ID)
	case EventDone:
		t.Outcome = e.Outcome
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Client sends commands as one chat identity.
type Client struct {
	baseURL    string
	callerID   string
	callerName string
	httpClient *http.Client
}

// New returns a client for the bot at baseURL. A nil httpClient uses a
// plain client with DefaultTimeout.
func New(baseURL, callerID, callerName string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		callerID:   callerID,
		callerName: callerName,
		httpClient: httpClient,
	}
}

// Send runs one command line, e.g. "!listvps". onEvent, when not nil, sees
// every reply and edit as the bot makes it.
func (c *Client) Send(ctx context.Context, command string, onEvent func(Event)) (*Transcript, error) {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return nil, err
	}
	return c.post(ctx, "/api/commands", body, onEvent)
}

// Press presses a menu button.
func (c *Client) Press(ctx context.Context, menuID, trigger string, onEvent func(Event)) (*Transcript, error) {
	return c.post(ctx, "/api/menus/"+url.PathEscape(menuID)+"/"+url.PathEscape(trigger), nil, onEvent)
}

func (c *Client) post(ctx context.Context, path string, body []byte, onEvent func(Event)) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", streamMediaType+", application/json")
	req.Header.Set("X-Caller-ID", c.callerID)
	if c.callerName != "" {
		req.Header.Set("X-Caller-Name", c.callerName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			return nil, fmt.Errorf("server error (%d)", resp.StatusCode)
		}
		return nil, fmt.Errorf("server error: %s", msg)
	}

	if onEvent == nil {
		onEvent = func(Event) {}
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), streamMediaType) {
		return readStream(resp.Body, onEvent)
	}

	var t Transcript
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	// A bot that does not stream still reports through onEvent.
	for i := range t.Messages {
		onEvent(Event{Type: EventMessage, Message: &t.Messages[i]})
	}
	onEvent(Event{Type: EventDone, Outcome: t.Outcome})
	return &t, nil
}

func readStream(r io.Reader, onEvent func(Event)) (*Transcript, error) {
	t := &Transcript{}
	dec := json.NewDecoder(r)
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("stream ended before the command finished")
			}
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if err := t.apply(e); err != nil {
			return nil, fmt.Errorf("invalid stream: %w", err)
		}
		onEvent(e)
		if e.Type == EventDone {
			return t, nil
		}
	}
}

// PrintEvent writes one streamed change for a terminal as it arrives.
// Private messages are marked so they are not mistaken for what the channel
// saw. An edit is printed as a new line since the terminal cannot rewrite
// what it already showed.
func PrintEvent(w io.Writer, e Event) {
	if e.Message != nil {
		printMessage(w, *e.Message)
	}
}

func printMessage(w io.Writer, m Message) {
	prefix := "»"
	if m.Channel == "private" {
		prefix = "🔒 (only you)"
	}
	suffix := ""
	if m.Edited {
		suffix = " (edited)"
	}
	fmt.Fprintf(w, "%s %s%s\n", prefix, m.Content, suffix)
	if m.Menu != nil {
		for _, b := range m.Menu.Buttons {
			fmt.Fprintf(w, "   [%s] press %s %s\n", b.Label, m.Menu.ID, b.Trigger)
		}
	}
}

// LoadClientCertificate returns an HTTP client presenting certFile/keyFile
// and trusting caFile.
func LoadClientCertificate(certFile, keyFile, caFile string) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caPool,
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: DefaultTimeout}, nil
}
