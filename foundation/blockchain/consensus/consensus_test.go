package consensus_test

import (
	"math/big"
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

func Test_Sqrt(t *testing.T) {
	type table struct {
		name string
		n    *big.Int
		exp  *big.Int
	}

	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10) // 2^128

	tt := []table{
		{name: "zero", n: big.NewInt(0), exp: big.NewInt(0)},
		{name: "negative", n: big.NewInt(-9), exp: big.NewInt(0)},
		{name: "perfect", n: big.NewInt(144), exp: big.NewInt(12)},
		{name: "floor", n: big.NewInt(143), exp: big.NewInt(11)},
		{name: "huge", n: huge, exp: new(big.Int).Lsh(big.NewInt(1), 64)},
		{name: "huge-minus-one", n: new(big.Int).Sub(huge, big.NewInt(1)), exp: new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))},
	}

	t.Log("Given the need to take exact integer square roots.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tst.name)
			{
				f := func(t *testing.T) {
					got := consensus.Sqrt(tst.n)
					if got.Cmp(tst.exp) != 0 {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.exp)
						t.Fatalf("\t%s\tTest %d:\tShould get the floor of the square root.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the floor of the square root.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_NormalizedStakeTarget(t *testing.T) {
	t.Log("Given the need to normalize a POS base target.")
	{
		params := consensus.DefaultParams()

		got := consensus.NormalizedStakeTarget(params.InitialBaseTarget)
		exp := new(big.Int).Div(new(big.Int).Lsh(big.NewInt(1), 64), new(big.Int).SetUint64(params.InitialBaseTarget))
		if got.Cmp(exp) != 0 {
			t.Fatalf("\t%s\tShould divide 2^64 by the base target: got %s exp %s", failed, got, exp)
		}
		t.Logf("\t%s\tShould divide 2^64 by the base target.", success)

		if consensus.NormalizedStakeTarget(0).Sign() != 0 {
			t.Fatalf("\t%s\tShould return zero for a zero base target.", failed)
		}
		t.Logf("\t%s\tShould return zero for a zero base target.", success)

		easier := consensus.NormalizedStakeTarget(params.MaxBaseTarget)
		if easier.Cmp(got) >= 0 {
			t.Fatalf("\t%s\tShould get a smaller difficulty for a larger base target.", failed)
		}
		t.Logf("\t%s\tShould get a smaller difficulty for a larger base target.", success)
	}
}

func Test_VerifyHit(t *testing.T) {
	params := consensus.DefaultParams()

	const (
		baseTarget = 1000
		balance    = 10
		base       = baseTarget * balance
		tip        = int64(50_000)
	)

	type table struct {
		name    string
		hit     uint64
		ts      int64
		offline bool
		exp     bool
	}

	tt := []table{
		{name: "zero-elapsed", hit: 0, ts: tip, exp: false},
		{name: "negative-elapsed", hit: 0, ts: tip - 1000, exp: false},
		{name: "sub-second", hit: 0, ts: tip + 999, exp: false},
		{name: "in-window", hit: base*4 + 7, ts: tip + 5_000, exp: true},
		{name: "window-upper-bound", hit: base * 5, ts: tip + 5_000, exp: false},
		{name: "window-lower-bound", hit: base * 4, ts: tip + 5_000, exp: true},
		{name: "below-window", hit: base*2 + 1, ts: tip + 5_000, exp: false},
		{name: "below-window-offline", hit: base*2 + 1, ts: tip + 5_000, offline: true, exp: true},
		{name: "below-window-idle", hit: base, ts: tip + (params.IdleThreshold+1)*1000, exp: true},
	}

	t.Log("Given the need to verify hits against the elapsed time window.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tst.name)
			{
				f := func(t *testing.T) {
					p := params
					p.Offline = tst.offline

					got := p.VerifyHit(tst.hit, balance, baseTarget, tip, tst.ts)
					if got != tst.exp {
						t.Fatalf("\t%s\tTest %d:\tShould get %v from the hit check, got %v.", failed, testID, tst.exp, got)
					}
					t.Logf("\t%s\tTest %d:\tShould get %v from the hit check.", success, testID, tst.exp)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_HitTimeForgingWindow(t *testing.T) {
	t.Log("Given the need to forge inside the window a hit time produces.")
	{
		params := consensus.DefaultParams()

		var seq [32]byte
		seq[0] = 7
		hit := consensus.CalculateHit(seq, []byte("public key"))

		const tip = int64(1_000_000)
		balance := params.MaxBalance / 3

		hitTime := consensus.HitTime(tip, hit, params.InitialBaseTarget, balance)
		if hitTime < tip || (hitTime-tip)%1000 != 0 {
			t.Fatalf("\t%s\tShould get a whole second hit time after the tip: %d", failed, hitTime)
		}
		t.Logf("\t%s\tShould get a whole second hit time after the tip.", success)

		ts := params.ForgingTimestamp(hitTime, hitTime+1000)
		if !params.VerifyHit(hit, balance, params.InitialBaseTarget, tip, ts) {
			t.Fatalf("\t%s\tShould accept the forging timestamp for the hit.", failed)
		}
		t.Logf("\t%s\tShould accept the forging timestamp for the hit.", success)

		if params.VerifyHit(hit, balance, params.InitialBaseTarget, tip, ts+1000) {
			t.Fatalf("\t%s\tShould reject a timestamp one second past the window.", failed)
		}
		t.Logf("\t%s\tShould reject a timestamp one second past the window.", success)

		idle := []int64{
			params.IdleThreshold*1000 + 1,
			params.IdleThreshold*1000 + 500,
			params.IdleThreshold*1000 + 999,
			(params.IdleThreshold + 1) * 1000,
			(params.IdleThreshold + 7) * 1000,
		}
		for _, gap := range idle {
			ts := params.ForgingTimestamp(hitTime, hitTime+gap)
			if !params.VerifyHit(hit, balance, params.InitialBaseTarget, tip, ts) {
				t.Fatalf("\t%s\tShould accept the forging timestamp %d ms after the hit time.", failed, gap)
			}
		}
		t.Logf("\t%s\tShould accept the forging timestamp around the idle threshold.", success)

		small := params.InitialBaseTarget*balance - 1
		smallTime := consensus.HitTime(tip, small, params.InitialBaseTarget, balance)
		if smallTime != tip {
			t.Fatalf("\t%s\tShould make a hit below the base eligible at the tip: %d", failed, smallTime)
		}
		for _, gap := range idle {
			ts := params.ForgingTimestamp(smallTime, smallTime+gap)
			if !params.VerifyHit(small, balance, params.InitialBaseTarget, tip, ts) {
				t.Fatalf("\t%s\tShould accept an immediate hit forged %d ms after the tip.", failed, gap)
			}
		}
		t.Logf("\t%s\tShould accept an immediate hit forged after an idle gap.", success)

		if consensus.HitTime(tip, hit, params.InitialBaseTarget, 0) <= tip {
			t.Fatalf("\t%s\tShould never make a zero balance eligible.", failed)
		}
		t.Logf("\t%s\tShould never make a zero balance eligible.", success)
	}
}
