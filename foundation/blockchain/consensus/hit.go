package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/big"
)

// CalculateHit derives the pseudo random hit for a public key forging on top
// of a block with the specified generation sequence. The first 8 bytes of the
// digest are read as a little endian unsigned integer.
func CalculateHit(generationSequence [32]byte, publicKey []byte) uint64 {
	h := sha256.New()
	h.Write(generationSequence[:])
	h.Write(publicKey)
	sum := h.Sum(nil)

	return binary.LittleEndian.Uint64(sum[:8])
}

// NextGenerationSequence hashes the previous sequence forward with the
// specified material.
func NextGenerationSequence(previous [32]byte, material []byte) [32]byte {
	h := sha256.New()
	h.Write(previous[:])
	h.Write(material)

	var seq [32]byte
	copy(seq[:], h.Sum(nil))

	return seq
}

// hitBase returns baseTarget * effectiveBalance.
func hitBase(baseTarget uint64, effectiveBalance uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(baseTarget), new(big.Int).SetUint64(effectiveBalance))
}

// HitTime returns the epoch time in milliseconds when a hit becomes eligible
// on top of a block with the specified timestamp.
func HitTime(tipTimestamp int64, hit uint64, baseTarget uint64, effectiveBalance uint64) int64 {
	base := hitBase(baseTarget, effectiveBalance)
	if base.Sign() == 0 {
		return math.MaxInt64
	}

	secs := new(big.Int).Div(new(big.Int).SetUint64(hit), base)
	if !secs.IsInt64() || secs.Int64() > (math.MaxInt64-tipTimestamp)/1000 {
		return math.MaxInt64
	}

	return tipTimestamp + secs.Int64()*1000
}

// ForgingTimestamp returns the timestamp a forger uses for a block once its
// hit time has arrived. Once the hit time is more than IdleThreshold whole
// seconds in the past the current time is used so the chain can resume.
// The hit time is never before the tip, so that timestamp always lands
// past the idle threshold VerifyHit applies.
func (p Params) ForgingTimestamp(hitTime int64, now int64) int64 {
	if now-hitTime >= (p.IdleThreshold+1)*1000 {
		return now
	}

	return hitTime + 1000
}

// VerifyHit checks a hit against the time window implied by the elapsed
// seconds between the previous block and the candidate timestamp.
func (p Params) VerifyHit(hit uint64, effectiveBalance uint64, baseTarget uint64, tipTimestamp int64, timestamp int64) bool {
	elapsed := (timestamp - tipTimestamp) / 1000
	if timestamp <= tipTimestamp || elapsed <= 0 {
		return false
	}

	base := hitBase(baseTarget, effectiveBalance)
	target := new(big.Int).Mul(base, big.NewInt(elapsed))
	prevTarget := new(big.Int).Mul(base, big.NewInt(elapsed-1))
	h := new(big.Int).SetUint64(hit)

	if h.Cmp(target) >= 0 {
		return false
	}

	return h.Cmp(prevTarget) >= 0 || elapsed > p.IdleThreshold || p.Offline
}
