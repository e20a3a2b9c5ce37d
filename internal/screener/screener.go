// Package screener ranks symbols by daily percent change for the
// top-gainers watchlist mode.
package screener

import (
	"sort"
	"strings"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// Criteria are the screen thresholds.
type Criteria struct {
	MinPrice  float64
	MinVolume float64
	Limit     int
}

// Symbol universes the screen can run over, keyed by name.
var symbolUniverses = map[string][]string{
	"large_cap": {
		"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "TSLA", "AVGO",
		"BRK.B", "LLY", "JPM", "V", "UNH", "XOM", "MA", "COST", "HD",
		"PG", "NFLX", "JNJ", "BAC", "CRM", "ABBV", "CVX", "KO", "AMD",
		"MRK", "PEP", "WMT", "ADBE", "TMO", "CSCO", "MCD", "ORCL", "INTC",
	},
	"etfs": {
		"SPY", "QQQ", "DIA", "IWM", "SMH", "XLF", "XLK", "XLE", "XLV",
		"XLI", "XLY", "XLP", "XLU", "XLB", "XLRE", "ARKK", "GLD", "TLT",
	},
}

// UniverseSymbols returns the symbol list for a named screen universe,
// falling back to large_cap for unknown names.
func UniverseSymbols(name string) []string {
	if syms, ok := symbolUniverses[strings.ToLower(strings.TrimSpace(name))]; ok {
		out := make([]string, len(syms))
		copy(out, syms)
		return out
	}
	out := make([]string, len(symbolUniverses["large_cap"]))
	copy(out, symbolUniverses["large_cap"])
	return out
}

// ComputeTopGainers ranks snapshots by percent change from the previous
// close, filtered by price and volume floors. When fewer than Limit symbols
// pass the volume floor, low-volume candidates that passed every other
// filter backfill the tail in rank order. Pure function of its inputs.
func ComputeTopGainers(snapshots map[string]*types.Snapshot, c Criteria) []types.GainerEntry {
	if c.Limit <= 0 {
		return nil
	}

	var ranked, lowVolume []types.GainerEntry
	for symbol, snap := range snapshots {
		price := snap.Price()
		prevClose := snap.PrevClose()
		if price <= 0 || prevClose <= 0 || price < c.MinPrice {
			continue
		}
		entry := types.GainerEntry{
			Symbol:    symbol,
			Price:     price,
			PrevClose: prevClose,
			ChangePct: (price - prevClose) / prevClose * 100,
			Volume:    snap.DailyVolume(),
		}
		if entry.Volume >= c.MinVolume {
			ranked = append(ranked, entry)
		} else {
			lowVolume = append(lowVolume, entry)
		}
	}

	byChange := func(entries []types.GainerEntry) {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].ChangePct != entries[j].ChangePct {
				return entries[i].ChangePct > entries[j].ChangePct
			}
			return entries[i].Symbol < entries[j].Symbol
		})
	}
	byChange(ranked)
	byChange(lowVolume)

	if len(ranked) < c.Limit {
		ranked = append(ranked, lowVolume...)
	}
	if len(ranked) > c.Limit {
		ranked = ranked[:c.Limit]
	}
	return ranked
}
