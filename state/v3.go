package state

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defistate/flasharb/engine"
)

// V3 pools store slot0 (packed), liquidity, tick spacing, and keccak-
// addressed tick mappings (spec.md §4.1).
const (
	v3Slot0Slot        = 0
	v3LiquiditySlot    = 4
	v3TickInfoBaseSlot = 5
	v3BitmapBaseSlot   = 6
	v3TickSpacingSlot  = 14
)

var (
	mask160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	mask16  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 16), big.NewInt(1))
	mask8   = big.NewInt(0xff)
	mask24  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 24), big.NewInt(1))
	mask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	two24   = new(big.Int).Lsh(big.NewInt(1), 24)
	two128  = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Slot0 is the decoded form of a V3 pool's slot 0.
type Slot0 struct {
	SqrtPriceX96               *big.Int
	Tick                       int32
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16
	FeeProtocol                uint8
	Unlocked                   bool
}

// EncodeSlot0 packs slot0's bitfields per spec.md §4.1.
func EncodeSlot0(s Slot0) common.Hash {
	packed := new(big.Int).And(s.SqrtPriceX96, mask160)

	tick24 := new(big.Int).SetInt64(int64(s.Tick))
	if s.Tick < 0 {
		tick24.Add(tick24, two24)
	}
	tick24.And(tick24, mask24)
	packed.Or(packed, new(big.Int).Lsh(tick24, 160))

	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(s.ObservationIndex)), 184))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(s.ObservationCardinality)), 200))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(s.ObservationCardinalityNext)), 216))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(s.FeeProtocol)), 232))
	if s.Unlocked {
		packed.SetBit(packed, 240, 1)
	}

	return common.BigToHash(packed)
}

// DecodeSlot0 unpacks a raw slot0 word.
func DecodeSlot0(raw common.Hash) Slot0 {
	v := new(big.Int).SetBytes(raw.Bytes())

	sqrtPriceX96 := new(big.Int).And(v, mask160)

	tick24 := new(big.Int).Rsh(v, 160)
	tick24.And(tick24, mask24)
	tick := int32(tick24.Int64())
	if tick24.Cmp(new(big.Int).Rsh(mask24, 1)) > 0 {
		tick = int32(new(big.Int).Sub(tick24, two24).Int64())
	}

	obsIndex := uint16(new(big.Int).And(new(big.Int).Rsh(v, 184), mask16).Uint64())
	obsCard := uint16(new(big.Int).And(new(big.Int).Rsh(v, 200), mask16).Uint64())
	obsCardNext := uint16(new(big.Int).And(new(big.Int).Rsh(v, 216), mask16).Uint64())
	feeProtocol := uint8(new(big.Int).And(new(big.Int).Rsh(v, 232), mask8).Uint64())
	unlocked := v.Bit(240) == 1

	return Slot0{
		SqrtPriceX96:               sqrtPriceX96,
		Tick:                       tick,
		ObservationIndex:           obsIndex,
		ObservationCardinality:     obsCard,
		ObservationCardinalityNext: obsCardNext,
		FeeProtocol:                feeProtocol,
		Unlocked:                   unlocked,
	}
}

// V3Slot0Slot returns the storage slot holding a V3 pool's packed slot0.
func V3Slot0Slot() common.Hash {
	return common.BigToHash(big.NewInt(v3Slot0Slot))
}

// V3LiquiditySlot returns the storage slot holding a V3 pool's active liquidity.
func V3LiquiditySlot() common.Hash {
	return common.BigToHash(big.NewInt(v3LiquiditySlot))
}

// tickSlot computes slot(tick) = keccak256(be_bytes32(tick) ++ be_bytes32(baseSlot)).
func tickSlot(tick int32, baseSlot int64) common.Hash {
	tick256 := new(big.Int).SetInt64(int64(tick))
	if tick < 0 {
		tick256.Add(tick256, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	var buf [64]byte
	copy(buf[0:32], common.BigToHash(tick256).Bytes())
	copy(buf[32:64], common.BigToHash(big.NewInt(baseSlot)).Bytes())
	return crypto.Keccak256Hash(buf[:])
}

// EncodeTickInfo packs liquidityGross (low 128 bits) and liquidityNet (high
// 128 bits, two's complement) into one tick-info slot word.
func EncodeTickInfo(liquidityGross, liquidityNet *big.Int) common.Hash {
	net256 := new(big.Int).Set(liquidityNet)
	if liquidityNet.Sign() < 0 {
		net256.Add(net256, two128)
	}
	packed := new(big.Int).Lsh(net256, 128)
	packed.Or(packed, new(big.Int).And(liquidityGross, mask128))
	return common.BigToHash(packed)
}

// DecodeTickInfo reverses EncodeTickInfo.
func DecodeTickInfo(raw common.Hash) (liquidityGross, liquidityNet *big.Int) {
	v := new(big.Int).SetBytes(raw.Bytes())
	liquidityGross = new(big.Int).And(v, mask128)

	upper := new(big.Int).Rsh(v, 128)
	upper.And(upper, mask128)
	liquidityNet = upper
	if upper.Cmp(new(big.Int).Rsh(mask128, 1)) > 0 {
		liquidityNet = new(big.Int).Sub(upper, two128)
	}
	return liquidityGross, liquidityNet
}

// bitmapWordSlot computes the storage slot for tick-bitmap word wordPos.
func bitmapWordSlot(wordPos int16) common.Hash {
	word256 := big.NewInt(int64(wordPos))
	if wordPos < 0 {
		word256.Add(word256, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	var buf [64]byte
	copy(buf[0:32], common.BigToHash(word256).Bytes())
	copy(buf[32:64], common.BigToHash(big.NewInt(v3BitmapBaseSlot)).Bytes())
	return crypto.Keccak256Hash(buf[:])
}

// DecodeBitmapWord returns the tick indices marked initialized in word,
// given its word position and the pool's tick spacing.
func DecodeBitmapWord(wordPos int16, word *big.Int, tickSpacing int32) []int32 {
	var ticks []int32
	for bit := 0; bit < 256; bit++ {
		if word.Bit(bit) == 0 {
			continue
		}
		compressed := int64(wordPos)*256 + int64(bit)
		ticks = append(ticks, int32(compressed)*tickSpacing)
	}
	return ticks
}

// InsertV3Pool writes slot0, liquidity, tick spacing, per-tick info, and
// bitmap words with Custom provenance, mirroring insert_v2's contract for
// the V3 layout.
func InsertV3Pool(ctx context.Context, s *Store, pool *engine.Pool) error {
	if _, err := s.Basic(ctx, pool.Address); err != nil {
		return err
	}

	slot0 := Slot0{SqrtPriceX96: pool.V3SqrtPriceX96, Tick: pool.V3Tick, Unlocked: true}
	s.SetStorage(pool.Address, common.BigToHash(big.NewInt(v3Slot0Slot)), EncodeSlot0(slot0))
	s.SetStorage(pool.Address, common.BigToHash(big.NewInt(v3LiquiditySlot)), common.BigToHash(pool.V3Liquidity))
	s.SetStorage(pool.Address, common.BigToHash(big.NewInt(v3TickSpacingSlot)), common.BigToHash(big.NewInt(int64(pool.V3TickSpacing))))

	for tick, info := range pool.V3Ticks {
		s.SetStorage(pool.Address, tickSlot(tick, v3TickInfoBaseSlot), EncodeTickInfo(info.LiquidityGross, info.LiquidityNet))
	}
	for wordPos, word := range pool.V3TickBitmap {
		s.SetStorage(pool.Address, bitmapWordSlot(wordPos), common.BigToHash(word))
	}

	s.TrackPool(pool.Address, pool)
	return nil
}

// ApplyV3Slot0Diff updates a tracked V3 pool's decoded price/tick from a
// newly observed slot0 value.
func ApplyV3Slot0Diff(s *Store, addr common.Address, raw common.Hash) error {
	pool, ok := s.Pool(addr)
	if !ok {
		return nil
	}
	decoded := DecodeSlot0(raw)
	next := pool.Clone()
	next.V3SqrtPriceX96 = decoded.SqrtPriceX96
	next.V3Tick = decoded.Tick
	return s.UpdatePool(addr, next)
}

// ApplyV3LiquidityDiff updates a tracked V3 pool's active liquidity from a
// newly observed slot 4 value.
func ApplyV3LiquidityDiff(s *Store, addr common.Address, raw common.Hash) error {
	pool, ok := s.Pool(addr)
	if !ok {
		return nil
	}
	next := pool.Clone()
	next.V3Liquidity = new(big.Int).SetBytes(raw.Bytes())
	return s.UpdatePool(addr, next)
}
