// Package coordinator owns all canonical-state mutation. Every protocol
// call takes the single global critical section, runs inside one store
// transaction, and collects the commands it owes other clients into an
// outbox that is dispatched only after the transaction has committed and
// the section has been released. One slow peer can therefore never stall
// synchronization, and a failed send never unwinds a committed mutation.
package coordinator

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/marcus/tabsync/internal/store"
)

// ErrNotConnected is returned when a command targets a client with no
// live routing entry.
var ErrNotConnected = errors.New("client not connected")

// CommandType discriminates outbound commands.
type CommandType string

const (
	CmdCreateTab   CommandType = "createTab"
	CmdMoveTab     CommandType = "moveTab"
	CmdCloseTab    CommandType = "closeTab"
	CmdChangeURL   CommandType = "changeTabUrl"
	CmdActivateTab CommandType = "activateTab"
)

// Command is one instruction pushed to a single client. CreateTab carries
// a correlation id instead of a local id: the receiving client assigns
// local identity and reports it back through the create acknowledgment.
// FromReconciliation tells the client to suppress re-reporting its echo.
type Command struct {
	Type               CommandType `json:"type"`
	CorrelationID      string      `json:"correlationId,omitempty"`
	LocalID            int64       `json:"localId,omitempty"`
	Position           int         `json:"position"`
	NewPosition        int         `json:"newPosition,omitempty"`
	URL                string      `json:"url,omitempty"`
	Background         bool        `json:"openInBackground,omitempty"`
	FromReconciliation bool        `json:"fromReconciliation"`
}

// Sender delivers commands to one connected client. Implementations must
// be safe for concurrent use; sends happen outside the critical section.
type Sender interface {
	Send(cmd Command) error
}

// outbound pairs a command with its target client.
type outbound struct {
	clientID string
	cmd      Command
}

// pendingCreate is the serialized token behind a two-phase create.
type pendingCreate struct {
	TabID    string `json:"tabId"`
	ClientID string `json:"clientId"`
	Position int    `json:"position"`
	URL      string `json:"url"`
}

// Coordinator is the synchronization protocol state machine.
type Coordinator struct {
	mu    sync.Mutex // global critical section; FIFO by arrival
	store *store.Store

	regMu sync.Mutex
	conns map[string]Sender
}

// New creates a coordinator over the given store.
func New(st *store.Store) *Coordinator {
	return &Coordinator{
		store: st,
		conns: make(map[string]Sender),
	}
}

// Attach registers a live routing entry for a client. A previous entry
// for the same client is replaced.
func (c *Coordinator) Attach(clientID string, s Sender) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.conns[clientID] = s
	slog.Info("client attached", "client", clientID)
}

// Detach removes a client's routing entry. Canonical state is untouched;
// operations already queued by the client still complete.
func (c *Coordinator) Detach(clientID string) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	delete(c.conns, clientID)
	slog.Info("client detached", "client", clientID)
}

// DetachIf removes the client's routing entry only if it still points at
// s. A reconnecting client replaces its entry while the old connection is
// still draining; the old connection's teardown must not unregister the
// new one.
func (c *Coordinator) DetachIf(clientID string, s Sender) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if c.conns[clientID] != s {
		return
	}
	delete(c.conns, clientID)
	slog.Info("client detached", "client", clientID)
}

// Connected returns the ids of all clients with live routing entries.
func (c *Coordinator) Connected() []string {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	ids := make([]string, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}
	return ids
}

// connectedExcept returns connected client ids other than excluded.
func (c *Coordinator) connectedExcept(excluded string) []string {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	ids := make([]string, 0, len(c.conns))
	for id := range c.conns {
		if id != excluded {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Coordinator) sender(clientID string) Sender {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return c.conns[clientID]
}

// dispatch delivers the outbox. Called after commit, outside the critical
// section. Per-peer failures are isolated and logged; they never affect
// the already-committed mutation or other peers.
func (c *Coordinator) dispatch(out []outbound) {
	for _, ob := range out {
		s := c.sender(ob.clientID)
		if s == nil {
			slog.Debug("dropping command for disconnected client",
				"client", ob.clientID, "type", ob.cmd.Type)
			continue
		}
		if err := s.Send(ob.cmd); err != nil {
			slog.Warn("send command failed",
				"client", ob.clientID, "type", ob.cmd.Type, "err", err)
		}
	}
}
