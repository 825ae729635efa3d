// Package channel maintains the persistent WebSocket connection to the
// backend. It reconnects forever on a fixed delay and turns inbound frames
// into typed events; a malformed frame is dropped, never fatal.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lotas/werkbank/internal/applog"
	"github.com/lotas/werkbank/internal/types"
	"nhooyr.io/websocket"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Kind classifies an inbound event.
type Kind int

const (
	// KindConnected and KindDisconnected are synthesized on state changes.
	KindConnected Kind = iota
	KindDisconnected
	// KindFileChange is a backend file-system change notification.
	KindFileChange
	// KindAgentChunk is an incremental agent update ("agent_chunk" or the
	// backend's "thinking" frames).
	KindAgentChunk
	// KindAgentResponse is a finalized agent message.
	KindAgentResponse
	// KindAgentError is a finalized agent failure.
	KindAgentError
)

// Event is one inbound occurrence on the channel.
type Event struct {
	Kind Kind
	Text string
}

// wireMsg covers every inbound frame shape.
type wireMsg struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Text  string `json:"text,omitempty"`
}

type chatMsg struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Mode     string `json:"mode"`
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey,omitempty"`
}

type stopMsg struct {
	Type string `json:"type"`
}

const defaultRetryDelay = 3 * time.Second

// ErrNotConnected is returned by outbound sends while the channel is down.
var ErrNotConnected = errors.New("channel: not connected")

// Client is the reconnecting channel client. Create with New, start with
// Run (usually in a goroutine), stop by cancelling the Run context — that
// also abandons any pending reconnect wait.
type Client struct {
	url        string
	retryDelay time.Duration
	events     chan Event
	state      atomic.Int32

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
}

// New creates a client for the backend at baseURL (http[s]://host[:port]);
// the channel lives at /ws with the matching ws scheme.
func New(baseURL string) *Client {
	wsURL := strings.TrimSuffix(baseURL, "/")
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	return &Client{
		url:        wsURL + "/ws",
		retryDelay: defaultRetryDelay,
		events:     make(chan Event, 64),
	}
}

// Events returns the inbound event stream. It is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Run connects and keeps reconnecting until ctx is cancelled. Reconnection
// uses a fixed delay with no attempt limit; the delay timer is bound to ctx
// so teardown never leaks a pending reconnect.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	defer c.setState(Disconnected)

	for {
		c.setState(Connecting)
		applog.Info("channel.dial", "url", c.url)

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			applog.Error("channel.dial", err)
			if !c.wait(ctx) {
				return
			}
			continue
		}

		conn.SetReadLimit(16 << 20) // agent responses can carry whole files

		c.mu.Lock()
		c.conn = conn
		c.connCtx = ctx
		c.mu.Unlock()

		c.setState(Connected)
		applog.Info("channel.connected")
		c.emit(Event{Kind: KindConnected})

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.connCtx = nil
		c.mu.Unlock()
		conn.CloseNow()

		c.setState(Closed)
		applog.Info("channel.closed")
		c.emit(Event{Kind: KindDisconnected})

		if ctx.Err() != nil {
			return
		}
		if !c.wait(ctx) {
			return
		}
	}
}

func (c *Client) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg wireMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			applog.Error("channel.parse", err)
			continue
		}
		applog.Info("channel.recv", "type", msg.Type)

		switch msg.Type {
		case "system_event":
			if msg.Event == "file_change" {
				c.emit(Event{Kind: KindFileChange})
			}
		case "agent_chunk", "thinking":
			c.emit(Event{Kind: KindAgentChunk, Text: msg.Text})
		case "agent_response":
			c.emit(Event{Kind: KindAgentResponse, Text: msg.Text})
		case "agent_error":
			c.emit(Event{Kind: KindAgentError, Text: msg.Text})
		default:
			// Unknown frame types are skipped, the channel stays open.
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		applog.Info("channel.dropped", "kind", int(ev.Kind))
	}
}

// Chat sends a chat message to the agent.
func (c *Client) Chat(message string, opts types.ChatOptions) error {
	return c.send(chatMsg{
		Type:     "chat",
		Message:  message,
		Mode:     opts.Mode,
		Provider: opts.Provider,
		APIKey:   opts.APIKey,
	})
}

// Stop asks the agent to abort the current turn.
func (c *Client) Stop() error {
	return c.send(stopMsg{Type: "stop"})
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	ctx := c.connCtx
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
