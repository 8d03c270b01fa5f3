package core

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func applyAll(deltas []int64) PlayerProfile {
	p := PlayerProfile{Key: "p"}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, d := range deltas {
		p = Apply(p, CentsToDollars(d), start.AddDate(0, 0, i), false, false)
	}
	return p
}

func reversed(in []int64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func TestApply_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	deltas := gen.SliceOf(gen.Int64Range(-500000, 500000))

	properties.Property("net and extremes do not depend on game order", prop.ForAll(
		func(ds []int64) bool {
			a, b := applyAll(ds), applyAll(reversed(ds))
			return a.Net == b.Net &&
				a.BiggestWin == b.BiggestWin &&
				a.BiggestLoss == b.BiggestLoss &&
				a.GamesUp == b.GamesUp &&
				a.GamesDown == b.GamesDown
		},
		deltas,
	))

	properties.Property("net equals sum of deltas", prop.ForAll(
		func(ds []int64) bool {
			var sum int64
			for _, d := range ds {
				sum += d
			}
			f, _ := CentsToDollars(sum).Float64()
			return applyAll(ds).Net == f
		},
		deltas,
	))

	properties.Property("running net stays within highest and lowest", prop.ForAll(
		func(ds []int64) bool {
			p := applyAll(ds)
			if p.LowestNet > p.Net || p.Net > p.HighestNet {
				return false
			}
			for _, pt := range p.NetHistory {
				if pt.Net < p.LowestNet || pt.Net > p.HighestNet {
					return false
				}
			}
			return len(p.NetHistory) == len(ds) && len(p.GamesPlayed) == len(ds)
		},
		deltas,
	))

	properties.Property("reapplying a date keeps one game entry", prop.ForAll(
		func(a, b int64) bool {
			day := time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC)
			p := Apply(PlayerProfile{Key: "p"}, CentsToDollars(a), day, false, false)
			p = Apply(p, CentsToDollars(b), day, false, false)
			return len(p.GamesPlayed) == 1 && len(p.NetHistory) == 1
		},
		gen.Int64Range(-100000, 100000),
		gen.Int64Range(-100000, 100000),
	))

	properties.TestingRun(t)
}
