// Package consensus holds the protocol constants and the shared math used by
// the hybrid proof-of-work / proof-of-stake rules.
package consensus

import (
	"math"
	"time"
)

// Block version values. The high bit of the version marks a key block which
// is authenticated by proof of work. A clear high bit marks a POS block that
// was forged with stake.
const (
	KeyBlockFlag    uint16 = 0x8000
	PosBlockVersion uint16 = 1
	KeyBlockVersion uint16 = KeyBlockFlag | 1
)

// IsKeyVersion reports if the version describes a key block.
func IsKeyVersion(version uint16) bool {
	return version&KeyBlockFlag != 0
}

// =============================================================================

// Params represents the set of protocol constants a node runs with.
type Params struct {
	Epoch   time.Time // Timestamps in blocks are milliseconds since this moment.
	ChainID uint16    // Seeds the genesis generation sequence. Zero keeps it empty.

	// Proof of stake.
	TargetBlockTime   int64  // Seconds between POS blocks.
	MinBlocktimeLimit int64  // Floor of the observed block time used for retargets.
	MaxBlocktimeLimit int64  // Ceiling of the observed block time used for retargets.
	BaseTargetGamma   int64  // Percentage of the deviation applied when blocks come fast.
	MaxBalance        uint64 // Total supply in whole coins.
	InitialBaseTarget uint64
	MinBaseTarget     uint64
	MaxBaseTarget     uint64
	IdleThreshold     int64 // Seconds after which any hit below target is accepted.
	Offline           bool  // Node runs without peers, hit windows are not enforced.

	// Proof of work.
	KeyBlockSpacing time.Duration // Expected time between key blocks.
	RetargetWindow  uint64        // Number of key blocks averaged for a retarget.
	PowLimitBits    uint32        // Easiest permitted target in compact form.
	KeyBlockReward  uint64        // Coins paid by the coinbase of a key block.

	// Forging.
	ActiveForgerWindow uint64        // Trailing POS blocks that make a forger active.
	MinForgerStake     uint64        // Stake required to enter the forgers merkle root.
	PopOffWindow       int64         // Seconds a received tip is contestable by a local forger.
	TxRejectRetry      time.Duration // How long forging retries after a rejected transaction.
	MaxFutureDrift     int64         // Milliseconds a block timestamp can be ahead of the clock.
	MaxPayloadTxs      int           // Maximum transactions a block carries.
}

// DefaultParams returns the parameters used by a production node.
func DefaultParams() Params {
	const maxBalance = 1_000_000_000

	initial := uint64(math.MaxInt64) / (60 * maxBalance)

	return Params{
		Epoch:             time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		TargetBlockTime:   60,
		MinBlocktimeLimit: 53,
		MaxBlocktimeLimit: 67,
		BaseTargetGamma:   64,
		MaxBalance:        maxBalance,
		InitialBaseTarget: initial,
		MinBaseTarget:     initial * 9 / 10,
		MaxBaseTarget:     initial * 50,
		IdleThreshold:     3600,

		KeyBlockSpacing: 10 * time.Minute,
		RetargetWindow:  12,
		PowLimitBits:    0x1e0fffff,
		KeyBlockReward:  50,

		ActiveForgerWindow: 1440,
		MinForgerStake:     1000,
		PopOffWindow:       600,
		TxRejectRetry:      10 * time.Second,
		MaxFutureDrift:     15_000,
		MaxPayloadTxs:      255,
	}
}

// TestParams returns parameters with an easy proof of work limit and small
// windows so tests and local networks can build chains quickly.
func TestParams() Params {
	p := DefaultParams()
	p.PowLimitBits = 0x207fffff
	p.RetargetWindow = 4
	p.KeyBlockSpacing = 2 * time.Minute
	p.ActiveForgerWindow = 10
	p.MinForgerStake = 1
	p.TxRejectRetry = 500 * time.Millisecond

	return p
}

// EpochTime converts a wall clock time into milliseconds since the epoch.
func (p Params) EpochTime(t time.Time) int64 {
	return t.Sub(p.Epoch).Milliseconds()
}

// Now returns the current epoch time in milliseconds.
func (p Params) Now() int64 {
	return p.EpochTime(time.Now())
}
