package core

// stats.go folds one game's result into a player's cumulative statistics.
//
// Apply is a pure function: it returns a new profile and never touches the
// one it was given. Money is computed in decimal and rounded half away from
// zero to cents before it is stored back as float64.

import (
	"time"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// CentsToDollars converts a ledger amount to dollars.
func CentsToDollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Apply returns p updated with one game's delta.
// isBatchMax and isBatchMin credit the up-most and down-most counters; every
// player tied at an extreme is credited.
func Apply(p PlayerProfile, delta decimal.Decimal, gameDate time.Time, isBatchMax, isBatchMin bool) PlayerProfile {
	out := p.Clone()
	key := DateKey(gameDate)

	newNet := dec(p.Net).Add(delta).Round(2)
	out.Net = round2(newNet)

	if !out.HasPlayed(key) {
		out.GamesPlayed = append(out.GamesPlayed, key)
	}

	d := round2(delta)
	out.BiggestWin = max(out.BiggestWin, d)
	out.BiggestLoss = min(out.BiggestLoss, d)
	out.HighestNet = max(out.HighestNet, out.Net)
	out.LowestNet = min(out.LowestNet, out.Net)
	out.NetHistory = out.NetHistory.Set(key, out.Net)

	if isBatchMax {
		out.GamesUpMost++
	}
	if isBatchMin {
		out.GamesDownMost++
	}
	switch delta.Sign() {
	case 1:
		out.GamesUp++
	case -1:
		out.GamesDown++
	}

	if n := len(out.GamesPlayed); n > 0 {
		out.AverageNet = round2(newNet.Div(decimal.NewFromInt(int64(n))))
	}
	return out
}

// Extremes are a batch's largest and smallest deltas in cents.
type Extremes struct {
	Max int64
	Min int64
}

// BatchExtremes finds the extreme deltas of a set of results.
// The zero value is returned for an empty batch.
func BatchExtremes(deltas map[string]int64) Extremes {
	var e Extremes
	first := true
	for _, d := range deltas {
		if first {
			e = Extremes{Max: d, Min: d}
			first = false
			continue
		}
		e.Max = max(e.Max, d)
		e.Min = min(e.Min, d)
	}
	return e
}

// ResetProfile zeroes a profile's statistics, keeping its key and aliases.
func ResetProfile(p PlayerProfile) PlayerProfile {
	return PlayerProfile{
		Key:         p.Key,
		Nicknames:   append([]string(nil), p.Nicknames...),
		GamesPlayed: []string{},
		NetHistory:  NetHistory{},
	}
}

// GameDelta is one game's change in a player's running total.
type GameDelta struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
	Delta float64 `json:"delta"`
}

// RecentGames summarises a player's last n games, newest first.
type RecentGames struct {
	Key     string      `json:"key"`
	Games   []GameDelta `json:"games"`
	Net     float64     `json:"net"`
	Average float64     `json:"average"`
}

// Recent returns the last n entries of p's net history with each game's
// delta. The game before the first recorded one is taken as a zero total.
func Recent(p PlayerProfile, n int) RecentGames {
	out := RecentGames{Key: p.Key, Games: []GameDelta{}}
	h := p.NetHistory
	if n <= 0 || len(h) == 0 {
		return out
	}
	n = min(n, len(h))

	sum := decimal.Zero
	for i := len(h) - 1; i >= len(h)-n; i-- {
		prev := decimal.Zero
		if i > 0 {
			prev = dec(h[i-1].Net)
		}
		delta := dec(h[i].Net).Sub(prev).Round(2)
		sum = sum.Add(delta)
		out.Games = append(out.Games, GameDelta{Date: h[i].Date, Total: h[i].Net, Delta: round2(delta)})
	}
	out.Net = round2(sum)
	out.Average = round2(sum.Div(decimal.NewFromInt(int64(n))))
	return out
}
