package state

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/flasharb/engine"
)

// V2 pools store token0/token1/reserves at fixed slots (spec.md §4.1).
const (
	v2Token0Slot  = 6
	v2Token1Slot  = 7
	v2ReserveSlot = 8
)

var mask112 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))

// EncodeV2Reserves packs reserve0/reserve1 into slot 8's layout:
// slot8 = (reserve1 << 112) | (reserve0 & mask112).
func EncodeV2Reserves(reserve0, reserve1 *big.Int) common.Hash {
	packed := new(big.Int).Lsh(reserve1, 112)
	packed.Or(packed, new(big.Int).And(reserve0, mask112))
	return common.BigToHash(packed)
}

// DecodeV2Reserves unpacks slot 8 into (reserve0, reserve1).
func DecodeV2Reserves(slot8 common.Hash) (reserve0, reserve1 *big.Int) {
	packed := new(big.Int).SetBytes(slot8.Bytes())
	reserve0 = new(big.Int).And(packed, mask112)
	reserve1 = new(big.Int).Rsh(packed, 112)
	reserve1.And(reserve1, mask112)
	return reserve0, reserve1
}

// V2ReserveSlot returns the storage slot holding a V2 pool's packed
// reserves, for callers (e.g. the block tracker) that need to recognize it
// among a set of raw touched slots.
func V2ReserveSlot() common.Hash {
	return common.BigToHash(big.NewInt(v2ReserveSlot))
}

func addressSlot(addr common.Address) common.Hash {
	var h common.Hash
	copy(h[12:], addr.Bytes())
	return h
}

func slotAddress(slot common.Hash) common.Address {
	return common.BytesToAddress(slot.Bytes())
}

// InsertV2Pool writes slots 6/7/8 with Custom provenance, after a Basic
// fetch materializes the pool contract's code and code hash (spec.md
// §4.1's insert_v2).
func InsertV2Pool(ctx context.Context, s *Store, pool *engine.Pool) error {
	if _, err := s.Basic(ctx, pool.Address); err != nil {
		return err
	}

	s.SetStorage(pool.Address, common.BigToHash(big.NewInt(v2Token0Slot)), addressSlot(pool.Token0))
	s.SetStorage(pool.Address, common.BigToHash(big.NewInt(v2Token1Slot)), addressSlot(pool.Token1))
	s.SetStorage(pool.Address, common.BigToHash(big.NewInt(v2ReserveSlot)), EncodeV2Reserves(pool.V2Reserve0, pool.V2Reserve1))

	s.TrackPool(pool.Address, pool)
	return nil
}

// ReadV2Reserves reads and decodes slot 8 directly from the store,
// triggering a lazy fetch on a miss (spec.md scenario 2, get_reserves).
func ReadV2Reserves(ctx context.Context, s *Store, addr common.Address) (reserve0, reserve1 *big.Int, err error) {
	slot8, err := s.Storage(ctx, addr, common.BigToHash(big.NewInt(v2ReserveSlot)))
	if err != nil {
		return nil, nil, err
	}
	r0, r1 := DecodeV2Reserves(slot8)
	return r0, r1, nil
}

// ApplyV2ReserveDiff updates a tracked V2 pool's decoded reserves from a
// newly observed slot 8 value (spec.md scenario 6, block application).
func ApplyV2ReserveDiff(s *Store, addr common.Address, slot8 common.Hash) error {
	pool, ok := s.Pool(addr)
	if !ok {
		return nil // not a pool we track; caller filters before calling
	}
	next := pool.Clone()
	next.V2Reserve0, next.V2Reserve1 = DecodeV2Reserves(slot8)
	return s.UpdatePool(addr, next)
}
