// Package connmgr owns the set of live MCP sessions, one per configured
// server name. Connects are explicit and fire-and-forget: the caller gets an
// acknowledgement that a connect was initiated, and observes completion later
// through the live-session registry. It is the only package that talks to
// external servers.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/registry"
)

// State is the lifecycle of one live session.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
)

// ErrNotConnected reports that no live session exists for a server name.
// Whether the name is configured at all is the registry's business; callers
// cross-check there to produce an actionable message.
var ErrNotConnected = errors.New("connmgr: server not connected")

// Options configure a Manager.
type Options struct {
	// ClientName and ClientVersion identify this router to remote servers
	// during the protocol handshake.
	ClientName    string
	ClientVersion string
	// Logger receives connect/disconnect diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// DialTransport overrides how a server definition becomes a transport.
	// Nil selects the built-in stdio/sse/http strategies.
	DialTransport func(def registry.ServerDefinition) (mcp.Transport, error)
}

func (o *Options) normalized() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-router"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTransport == nil {
		opts.DialTransport = defaultTransport
	}
	return opts
}

type liveSession struct {
	name      string
	attemptID string
	state     State
	client    *mcp.Client
	session   *mcp.ClientSession
	settled   chan struct{} // closed once the handshake succeeds or fails
}

// Manager orchestrates the live sessions. All registry mutations happen under
// one mutex, so concurrent connect/disconnect on the same name are atomic;
// the handshakes themselves run outside the lock and do not contend.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewManager constructs a Manager with no live sessions. Callers own its
// lifecycle: construct at startup, DisconnectAll at shutdown.
func NewManager(opts *Options) *Manager {
	return &Manager{
		opts:     opts.normalized(),
		sessions: make(map[string]*liveSession),
	}
}

// Connect initiates a background connect to def and returns immediately with
// an attempt ID and the session's current state. Starting a connect while one
// is already connecting or connected is a no-op that reports the existing
// attempt. Completion is observed via ListActive/GetClient; a handshake
// failure removes the entry rather than leaving a half-open session.
func (m *Manager) Connect(def registry.ServerDefinition) (string, State) {
	m.mu.Lock()
	if existing, ok := m.sessions[def.Name]; ok {
		m.mu.Unlock()
		return existing.attemptID, existing.state
	}
	ls := &liveSession{
		name:      def.Name,
		attemptID: uuid.NewString(),
		state:     StateConnecting,
		settled:   make(chan struct{}),
	}
	m.sessions[def.Name] = ls
	m.mu.Unlock()

	m.opts.Logger.Info("connect initiated", "server", def.Name, "transport", def.Transport, "attempt", ls.attemptID)
	go m.dial(def, ls)
	return ls.attemptID, StateConnecting
}

// ConnectWait initiates a connect (or joins an in-flight one) and blocks
// until the handshake settles or ctx expires, returning the bound client.
func (m *Manager) ConnectWait(ctx context.Context, def registry.ServerDefinition) (*Client, error) {
	m.Connect(def)
	m.mu.Lock()
	ls, ok := m.sessions[def.Name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connmgr: connect %q: %w", def.Name, ErrNotConnected)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ls.settled:
	}
	return m.GetClient(def.Name)
}

func (m *Manager) dial(def registry.ServerDefinition, ls *liveSession) {
	defer close(ls.settled)

	transport, err := m.opts.DialTransport(def)
	if err != nil {
		m.failDial(def.Name, ls, err)
		return
	}
	client := mcp.NewClient(&mcp.Implementation{
		Name:    m.opts.ClientName,
		Version: m.opts.ClientVersion,
	}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		m.failDial(def.Name, ls, err)
		return
	}

	m.mu.Lock()
	if m.sessions[def.Name] != ls {
		// A disconnect superseded this attempt while the handshake was in
		// flight; release the session we just opened.
		m.mu.Unlock()
		_ = session.Close()
		return
	}
	ls.state = StateConnected
	ls.client = client
	ls.session = session
	m.mu.Unlock()

	m.opts.Logger.Info("connected", "server", def.Name, "attempt", ls.attemptID)
	go m.monitor(def.Name, ls)
}

func (m *Manager) failDial(name string, ls *liveSession, err error) {
	m.mu.Lock()
	ls.state = StateFailed
	if m.sessions[name] == ls {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	m.opts.Logger.Warn("handshake failed", "server", name, "attempt", ls.attemptID, "error", err)
}

// monitor clears the registry entry when the underlying session ends on its
// own (remote close, subprocess exit).
func (m *Manager) monitor(name string, ls *liveSession) {
	err := ls.session.Wait()
	m.mu.Lock()
	if m.sessions[name] == ls {
		ls.state = StateClosed
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if err != nil {
		m.opts.Logger.Warn("session ended", "server", name, "error", err)
	}
}

// Disconnect releases the live session for name. It is idempotent: a missing
// session succeeds as a no-op. A connect still in flight is superseded; its
// session is released as soon as the handshake completes.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	ls, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, name)
	ls.state = StateClosed
	session := ls.session
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("connmgr: disconnect %q: %w", name, err)
	}
	return nil
}

// DisconnectAll releases every live session. Individual failures do not stop
// the rest; they are joined into the returned error.
func (m *Manager) DisconnectAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.Disconnect(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetClient returns a handle bound to the live session for name, or
// ErrNotConnected when no completed session exists. A session still in the
// connecting state is not yet usable and also reports ErrNotConnected.
func (m *Manager) GetClient(name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[name]
	if !ok || ls.state != StateConnected {
		return nil, fmt.Errorf("connmgr: server %q: %w", name, ErrNotConnected)
	}
	return &Client{manager: m, name: name, ls: ls}, nil
}

// State reports the session state for name, or false when absent.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[name]
	if !ok {
		return "", false
	}
	return ls.state, true
}

// ListActive returns the sorted names of servers currently connected or
// connecting.
func (m *Manager) ListActive() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name, ls := range m.sessions {
		if ls.state == StateConnecting || ls.state == StateConnected {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// IsActive reports whether name has a live (connected or connecting) session.
func (m *Manager) IsActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[name]
	return ok && (ls.state == StateConnecting || ls.state == StateConnected)
}
