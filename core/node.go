package core

import (
	"sync"

	"bakedbeans/core/events"
	"bakedbeans/core/state"
	"bakedbeans/core/types"
	"bakedbeans/native/beans"
	"bakedbeans/storage"
)

// Node hosts the program state and engine and serializes access to them.
// Every operation runs as one atomic unit: the engine reverts its staged
// writes on failure and the node commits them on success, so concurrent
// callers never observe partial state.
type Node struct {
	mu     sync.Mutex
	state  *state.Manager
	engine *beans.Engine
	events []types.Event
}

// NewNode wires a state manager and beans engine on top of db.
func NewNode(db storage.Database) *Node {
	n := &Node{
		state:  state.NewManager(db),
		engine: beans.NewEngine(),
	}
	n.engine.SetState(n.state)
	n.engine.SetEmitter(n)
	return n
}

// Emit implements events.Emitter, appending to the node's event log.
func (n *Node) Emit(evt events.Event) {
	type carrier interface {
		Event() *types.Event
	}
	c, ok := evt.(carrier)
	if !ok {
		return
	}
	converted := c.Event()
	if converted == nil {
		return
	}
	n.events = append(n.events, *converted)
}

// SetNowFunc overrides the engine clock. Primarily intended for tests.
func (n *Node) SetNowFunc(now func() uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

func (n *Node) withCommit(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	return n.state.Commit()
}

// Initialize runs the registry initialization operation.
func (n *Node) Initialize(caller, newAuthority, dev, marketing, ceo, giveaway [20]byte) error {
	return n.withCommit(func() error {
		return n.engine.Initialize(caller, newAuthority, dev, marketing, ceo, giveaway)
	})
}

// InitUserState creates the participant record for userKey.
func (n *Node) InitUserState(userKey [20]byte) error {
	return n.withCommit(func() error {
		return n.engine.InitUserState(userKey)
	})
}

// BuyBeans deposits lamports for user, crediting refUser's referral books.
func (n *Node) BuyBeans(user, refUser [20]byte, amount uint64) error {
	return n.withCommit(func() error {
		return n.engine.BuyBeans(user, refUser, amount)
	})
}

// BakeBeans compounds user's accrued reward.
func (n *Node) BakeBeans(user [20]byte, onlyRebaking bool) error {
	return n.withCommit(func() error {
		return n.engine.BakeBeans(user, onlyRebaking)
	})
}

// EatBeans withdraws user's accrued reward.
func (n *Node) EatBeans(user [20]byte) error {
	return n.withCommit(func() error {
		return n.engine.EatBeans(user)
	})
}

// Credit funds addr with lamports, committing immediately. It stands in for
// currency arriving from outside the program (genesis allocations, tests).
func (n *Node) Credit(addr [20]byte, amount uint64) error {
	return n.withCommit(func() error {
		return n.state.Credit(addr, amount)
	})
}

// GlobalState returns the registry record, nil when not yet initialized.
func (n *Node) GlobalState() (*beans.GlobalState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GlobalState()
}

// UserState returns the record for addr, nil when never registered.
func (n *Node) UserState(addr [20]byte) (*beans.UserState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.UserState(addr)
}

// BalanceOf returns the lamport balance held by addr.
func (n *Node) BalanceOf(addr [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.BalanceOf(addr)
}

// VaultAddress returns the derived pooled-funds address.
func (n *Node) VaultAddress() [20]byte {
	return n.state.VaultAddress()
}

// Events returns a copy of the emitted event log.
func (n *Node) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}
