package simulator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/defistate/flasharb/state"
)

// accountOverlay is the in-call working set for one address, layered on
// top of state.Store for the duration of a single EVM call. Nothing here
// is visible to the rest of the engine until Commit writes it back into
// the store (spec.md §4.7: "holds a write lock on the state store for the
// duration of a simulation").
type accountOverlay struct {
	balance    *uint256.Int
	nonce      uint64
	code       []byte
	codeSet    bool
	storage    map[common.Hash]common.Hash
	destructed bool
}

func (a *accountOverlay) clone() *accountOverlay {
	c := &accountOverlay{
		nonce:      a.nonce,
		codeSet:    a.codeSet,
		destructed: a.destructed,
	}
	if a.balance != nil {
		c.balance = new(uint256.Int).Set(a.balance)
	}
	if a.code != nil {
		c.code = append([]byte(nil), a.code...)
	}
	if a.storage != nil {
		c.storage = make(map[common.Hash]common.Hash, len(a.storage))
		for k, v := range a.storage {
			c.storage[k] = v
		}
	}
	return c
}

// StateDB adapts state.Store to core/vm.StateDB for one EVM call. Reads
// miss through to the mirrored store; writes land in an in-call overlay
// that only this package's Commit ever pushes back into the store, so a
// reverted or never-committed call never touches the shared mirror.
type StateDB struct {
	ctx   context.Context
	store *state.Store

	dirty map[common.Address]*accountOverlay
	// journal[i] is a full deep copy of dirty taken when Snapshot returned
	// i; simple but correct for the call volumes a single quote involves.
	journal []map[common.Address]*accountOverlay

	refund uint64

	accessAddrs map[common.Address]bool
	accessSlots map[common.Address]map[common.Hash]bool

	logs []*types.Log
}

// NewStateDB wraps store for a single EVM call issued under ctx.
func NewStateDB(ctx context.Context, store *state.Store) *StateDB {
	return &StateDB{
		ctx:         ctx,
		store:       store,
		dirty:       make(map[common.Address]*accountOverlay),
		accessAddrs: make(map[common.Address]bool),
		accessSlots: make(map[common.Address]map[common.Hash]bool),
	}
}

func (s *StateDB) overlay(addr common.Address) *accountOverlay {
	ov, ok := s.dirty[addr]
	if !ok {
		ov = &accountOverlay{storage: make(map[common.Hash]common.Hash)}
		s.dirty[addr] = ov
	}
	return ov
}

func (s *StateDB) baseInfo(addr common.Address) state.AccountInfo {
	info, err := s.store.Basic(s.ctx, addr)
	if err != nil {
		return state.AccountInfo{Balance: new(big.Int)}
	}
	return info
}

func (s *StateDB) CreateAccount(addr common.Address) {
	ov := s.overlay(addr)
	ov.nonce = 0
	ov.code = nil
	ov.codeSet = false
}

// CreateContract is a no-op beyond CreateAccount in this adapter: the
// distinction (EIP-6780 "created this transaction") only matters for
// SELFDESTRUCT scoping, which the simulator's calls never trigger on the
// quoter/swap contracts themselves.
func (s *StateDB) CreateContract(addr common.Address) {}

func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	ov := s.overlay(addr)
	if ov.balance == nil {
		ov.balance = bigToUint256(s.baseInfo(addr).Balance)
	}
	prev := *ov.balance
	ov.balance = new(uint256.Int).Sub(ov.balance, amount)
	return prev
}

func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	ov := s.overlay(addr)
	if ov.balance == nil {
		ov.balance = bigToUint256(s.baseInfo(addr).Balance)
	}
	prev := *ov.balance
	ov.balance = new(uint256.Int).Add(ov.balance, amount)
	return prev
}

func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	if ov, ok := s.dirty[addr]; ok && ov.balance != nil {
		return ov.balance
	}
	return bigToUint256(s.baseInfo(addr).Balance)
}

func (s *StateDB) GetNonce(addr common.Address) uint64 {
	if ov, ok := s.dirty[addr]; ok {
		return ov.nonce
	}
	return s.baseInfo(addr).Nonce
}

func (s *StateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	s.overlay(addr).nonce = nonce
}

func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	return common.BytesToHash(s.baseInfo(addr).CodeHash.Bytes())
}

func (s *StateDB) GetCode(addr common.Address) []byte {
	if ov, ok := s.dirty[addr]; ok && ov.codeSet {
		return ov.code
	}
	return s.baseInfo(addr).Code
}

func (s *StateDB) SetCode(addr common.Address, code []byte) {
	ov := s.overlay(addr)
	ov.code = code
	ov.codeSet = true
}

func (s *StateDB) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *StateDB) AddRefund(gas uint64)  { s.refund += gas }
func (s *StateDB) SubRefund(gas uint64) {
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}
func (s *StateDB) GetRefund() uint64 { return s.refund }

func (s *StateDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	val, err := s.store.Storage(s.ctx, addr, key)
	if err != nil {
		return common.Hash{}
	}
	return val
}

func (s *StateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if ov, ok := s.dirty[addr]; ok {
		if v, ok := ov.storage[key]; ok {
			return v
		}
	}
	return s.GetCommittedState(addr, key)
}

func (s *StateDB) SetState(addr common.Address, key, value common.Hash) {
	s.overlay(addr).storage[key] = value
}

func (s *StateDB) GetStorageRoot(addr common.Address) common.Hash { return common.Hash{} }

func (s *StateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return common.Hash{}
}
func (s *StateDB) SetTransientState(addr common.Address, key, value common.Hash) {}

func (s *StateDB) SelfDestruct(addr common.Address) uint256.Int {
	ov := s.overlay(addr)
	prev := uint256.Int{}
	if ov.balance != nil {
		prev = *ov.balance
	}
	ov.destructed = true
	ov.balance = new(uint256.Int)
	return prev
}

func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	ov, ok := s.dirty[addr]
	return ok && ov.destructed
}

func (s *StateDB) Selfdestruct6780(addr common.Address) (uint256.Int, bool) {
	prev := s.SelfDestruct(addr)
	return prev, true
}

func (s *StateDB) Exist(addr common.Address) bool {
	if _, ok := s.dirty[addr]; ok {
		return true
	}
	_, err := s.store.Basic(s.ctx, addr)
	return err == nil
}

func (s *StateDB) Empty(addr common.Address) bool {
	info := s.baseInfo(addr)
	nonce := info.Nonce
	balance := info.Balance
	if ov, ok := s.dirty[addr]; ok {
		nonce = ov.nonce
		if ov.balance != nil {
			balance = ov.balance.ToBig()
		}
	}
	return nonce == 0 && (balance == nil || balance.Sign() == 0) && len(s.GetCode(addr)) == 0
}

func (s *StateDB) AddressInAccessList(addr common.Address) bool { return s.accessAddrs[addr] }

func (s *StateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	addrOK := s.accessAddrs[addr]
	slots, ok := s.accessSlots[addr]
	return addrOK, ok && slots[slot]
}

func (s *StateDB) AddAddressToAccessList(addr common.Address) { s.accessAddrs[addr] = true }

func (s *StateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.accessAddrs[addr] = true
	slots, ok := s.accessSlots[addr]
	if !ok {
		slots = make(map[common.Hash]bool)
		s.accessSlots[addr] = slots
	}
	slots[slot] = true
}

func (s *StateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccess types.AccessList) {
	s.accessAddrs = make(map[common.Address]bool)
	s.accessSlots = make(map[common.Address]map[common.Hash]bool)
	s.accessAddrs[sender] = true
	if dest != nil {
		s.accessAddrs[*dest] = true
	}
	for _, addr := range precompiles {
		s.accessAddrs[addr] = true
	}
	for _, entry := range txAccess {
		s.AddAddressToAccessList(entry.Address)
		for _, key := range entry.StorageKeys {
			s.AddSlotToAccessList(entry.Address, key)
		}
	}
}

// Snapshot deep-copies the current overlay and records it in the journal;
// the returned id is the journal index. This trades per-snapshot cost for
// correctness across arbitrarily interleaved snapshot/revert pairs, which
// is the right tradeoff for the call volume a single quote involves.
func (s *StateDB) Snapshot() int {
	cp := make(map[common.Address]*accountOverlay, len(s.dirty))
	for addr, ov := range s.dirty {
		cp[addr] = ov.clone()
	}
	s.journal = append(s.journal, cp)
	return len(s.journal) - 1
}

func (s *StateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.journal) {
		return
	}
	s.dirty = s.journal[id]
	s.journal = s.journal[:id]
}

func (s *StateDB) AddLog(log *types.Log) { s.logs = append(s.logs, log) }

func (s *StateDB) AddPreimage(hash common.Hash, preimage []byte) {}

// Commit writes every dirty overlay back into the store with Custom
// provenance (spec.md §4.7's warm-up seeding path); quote calls never call
// this, so a reverted or merely-probed call never escapes into shared
// state.
func (s *StateDB) Commit() {
	for addr, ov := range s.dirty {
		if ov.balance != nil {
			s.store.SetBalance(addr, ov.balance.ToBig())
		}
		if ov.codeSet {
			s.store.SetCode(addr, ov.code)
		}
		for key, val := range ov.storage {
			s.store.SetStorage(addr, key, val)
		}
	}
}

func bigToUint256(v *big.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	u, _ := uint256.FromBig(v)
	return u
}
