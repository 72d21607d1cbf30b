package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bakedbeans/core/types"
	"bakedbeans/native/beans"
	"bakedbeans/storage"
)

// rentExemptMinimum is the floor balance an account must retain to persist
// in storage, mirroring the host's rent-exemption threshold for a zero-byte
// account.
const rentExemptMinimum uint64 = 890_880

// ErrInsufficientFunds is returned by Transfer when the sender cannot cover
// the amount.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

var (
	globalStateKey = ethcrypto.Keccak256([]byte(beans.GlobalStateSeed))
	accountPrefix  = []byte("account:")
)

func userStateKey(addr [20]byte) []byte {
	buf := make([]byte, 0, len(beans.UserStateSeed)+len(addr))
	buf = append(buf, beans.UserStateSeed...)
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, 0, len(accountPrefix)+len(addr))
	buf = append(buf, accountPrefix...)
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

// VaultAddress derives the pooled-funds address from the vault seed, the
// counterpart of the host's program-derived address.
func VaultAddress() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte(beans.VaultSeed))[:20])
	return out
}

type journalEntry struct {
	key     string
	prev    []byte
	hadPrev bool
}

// Manager stages reads and writes over a key-value database. Writes land in
// an overlay that reaches the database only on Commit; Snapshot and
// RevertToSnapshot give operations all-or-nothing semantics, standing in for
// the host ledger's transaction rollback.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

// NewManager creates a state manager on top of the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if staged, ok := m.dirty[string(key)]; ok {
		return staged, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) put(key, value []byte) {
	k := string(key)
	prev, hadPrev := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadPrev: hadPrev})
	m.dirty[k] = value
}

// Snapshot returns a revision identifier for the current write position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write staged after the given revision.
func (m *Manager) RevertToSnapshot(rev int) {
	if rev < 0 || rev > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= rev; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:rev]
}

// Commit flushes all staged writes to the database and clears the overlay.
func (m *Manager) Commit() error {
	for key, value := range m.dirty {
		if err := m.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state: commit %x: %w", key, err)
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// --- program records ---

// GlobalState loads the singleton registry record, returning nil when absent.
func (m *Manager) GlobalState() (*beans.GlobalState, error) {
	data, err := m.get(globalStateKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	gs := new(beans.GlobalState)
	if err := rlp.DecodeBytes(data, gs); err != nil {
		return nil, fmt.Errorf("state: decode global state: %w", err)
	}
	return gs, nil
}

// SetGlobalState stages the registry record.
func (m *Manager) SetGlobalState(gs *beans.GlobalState) error {
	encoded, err := rlp.EncodeToBytes(gs)
	if err != nil {
		return fmt.Errorf("state: encode global state: %w", err)
	}
	m.put(globalStateKey, encoded)
	return nil
}

// UserState loads the record for addr, returning nil when absent.
func (m *Manager) UserState(addr [20]byte) (*beans.UserState, error) {
	data, err := m.get(userStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	us := new(beans.UserState)
	if err := rlp.DecodeBytes(data, us); err != nil {
		return nil, fmt.Errorf("state: decode user state: %w", err)
	}
	return us, nil
}

// PutUserState stages the record for its owner address.
func (m *Manager) PutUserState(us *beans.UserState) error {
	encoded, err := rlp.EncodeToBytes(us)
	if err != nil {
		return fmt.Errorf("state: encode user state: %w", err)
	}
	m.put(userStateKey(us.User), encoded)
	return nil
}

// --- ledger accounts ---

func (m *Manager) getAccount(addr [20]byte) (*types.Account, error) {
	data, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &types.Account{}, nil
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return account, nil
}

func (m *Manager) putAccount(addr [20]byte, account *types.Account) error {
	encoded, err := rlp.EncodeToBytes(account)
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	m.put(accountKey(addr), encoded)
	return nil
}

// BalanceOf returns the lamport balance held by addr.
func (m *Manager) BalanceOf(addr [20]byte) (uint64, error) {
	account, err := m.getAccount(addr)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Credit mints lamports onto addr. Used for genesis funding and tests.
func (m *Manager) Credit(addr [20]byte, amount uint64) error {
	account, err := m.getAccount(addr)
	if err != nil {
		return err
	}
	account.Balance += amount
	return m.putAccount(addr, account)
}

// Transfer moves lamports between two addresses, failing when the sender
// cannot cover the amount. A zero-amount transfer is a no-op.
func (m *Manager) Transfer(from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromAccount, err := m.getAccount(from)
	if err != nil {
		return err
	}
	if fromAccount.Balance < amount {
		return ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toAccount, err := m.getAccount(to)
	if err != nil {
		return err
	}
	fromAccount.Balance -= amount
	toAccount.Balance += amount
	if err := m.putAccount(from, fromAccount); err != nil {
		return err
	}
	return m.putAccount(to, toAccount)
}

// MinimumBalance returns the rent-exemption floor.
func (m *Manager) MinimumBalance() uint64 {
	return rentExemptMinimum
}

// VaultAddress returns the derived pooled-funds address.
func (m *Manager) VaultAddress() [20]byte {
	return VaultAddress()
}
