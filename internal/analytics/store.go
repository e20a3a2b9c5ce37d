// Package analytics persists equity snapshots and trade records as
// append-only, universe-scoped JSONL streams with schema validation.
package analytics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// SchemaError reports a record that violates the write contract. Schema
// violations are fatal to the offending call, never silently dropped.
type SchemaError struct {
	Stream string
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("analytics schema violation in %s: %s %s", e.Stream, e.Field, e.Detail)
}

// EquityRecord is one equity snapshot row.
type EquityRecord struct {
	Universe       string    `json:"universe"`
	SessionID      string    `json:"session_id"`
	DataLineageID  string    `json:"data_lineage_id"`
	ValidityClass  string    `json:"validity_class"`
	Timestamp      time.Time `json:"timestamp"`
	Equity         float64   `json:"equity"`
	PortfolioValue float64   `json:"portfolio_value"`
	Cash           float64   `json:"cash"`
	BuyingPower    float64   `json:"buying_power"`
	MarketOpen     bool      `json:"market_open"`
}

// TradeRecord is one executed trade row.
type TradeRecord struct {
	Universe       string     `json:"universe"`
	SessionID      string     `json:"session_id"`
	DataLineageID  string     `json:"data_lineage_id"`
	ValidityClass  string     `json:"validity_class"`
	Timestamp      time.Time  `json:"timestamp"`
	Symbol         string     `json:"symbol"`
	Side           types.Side `json:"side"`
	Qty            *float64   `json:"qty,omitempty"`
	FilledAvgPrice *float64   `json:"filled_avg_price,omitempty"`
	Notional       *float64   `json:"notional,omitempty"`
	Status         string     `json:"status,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	Source         string     `json:"source,omitempty"`
	TimeInForce    string     `json:"time_in_force,omitempty"`
	OrderType      string     `json:"order_type,omitempty"`
}

// Store appends validated rows to logs/<universe>/equity.jsonl and
// logs/<universe>/trades.jsonl. One store per universe; each stream has its
// own mutex held only for a single append.
type Store struct {
	ctx    *universe.Context
	logger *zap.Logger

	baseDir    string
	equityPath string
	tradesPath string

	equityMu sync.Mutex
	tradesMu sync.Mutex
}

// NewStore creates a store bound to ctx, rooted at baseDir (usually the
// process working directory).
func NewStore(ctx *universe.Context, baseDir string, logger *zap.Logger) (*Store, error) {
	if ctx == nil {
		return nil, fmt.Errorf("analytics store requires a universe context")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ctx:        ctx,
		logger:     logger.Named("analytics").With(zap.String("universe", ctx.Universe().String())),
		baseDir:    baseDir,
		equityPath: filepath.Join(baseDir, universe.LogPath(ctx.Universe(), "equity.jsonl")),
		tradesPath: filepath.Join(baseDir, universe.LogPath(ctx.Universe(), "trades.jsonl")),
	}, nil
}

// Universe returns the universe this store is bound to.
func (s *Store) Universe() universe.Universe { return s.ctx.Universe() }

func (s *Store) stampProvenance(stream string, u, sessionID, lineageID, validity *string, ts *time.Time) error {
	if *u != "" && *u != s.ctx.Universe().String() {
		return &SchemaError{Stream: stream, Field: "universe",
			Detail: fmt.Sprintf("%q does not match store universe %q", *u, s.ctx.Universe())}
	}
	*u = s.ctx.Universe().String()
	if *sessionID == "" {
		*sessionID = s.ctx.SessionID()
	}
	if *sessionID == "" {
		return &SchemaError{Stream: stream, Field: "session_id", Detail: "is empty"}
	}
	if *lineageID == "" {
		*lineageID = s.ctx.DataLineageID()
	}
	if *lineageID == "" {
		*lineageID = *sessionID
	}
	if *validity == "" {
		*validity = s.ctx.ValidityClass()
	}
	if ts.IsZero() {
		*ts = time.Now().UTC()
	}
	return nil
}

// RecordEquity validates and appends one equity snapshot.
func (s *Store) RecordEquity(rec EquityRecord) error {
	if err := s.stampProvenance("equity", &rec.Universe, &rec.SessionID,
		&rec.DataLineageID, &rec.ValidityClass, &rec.Timestamp); err != nil {
		return err
	}

	s.equityMu.Lock()
	defer s.equityMu.Unlock()
	return appendJSONL(s.equityPath, rec)
}

// RecordTrade validates and appends one trade record.
func (s *Store) RecordTrade(rec TradeRecord) error {
	if err := s.stampProvenance("trades", &rec.Universe, &rec.SessionID,
		&rec.DataLineageID, &rec.ValidityClass, &rec.Timestamp); err != nil {
		return err
	}
	if rec.Symbol == "" {
		return &SchemaError{Stream: "trades", Field: "symbol", Detail: "is required"}
	}
	if !rec.Side.Valid() {
		return &SchemaError{Stream: "trades", Field: "side",
			Detail: fmt.Sprintf("%q must be buy or sell", rec.Side)}
	}

	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	return appendJSONL(s.tradesPath, rec)
}

func appendJSONL(path string, rec any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// LoadEquity returns equity rows newer than the period cutoff, oldest
// first. Malformed lines are skipped with a warning.
func (s *Store) LoadEquity(period string) ([]EquityRecord, error) {
	cutoff, hasCutoff, err := PeriodCutoff(period, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.equityMu.Lock()
	defer s.equityMu.Unlock()

	var out []EquityRecord
	err = s.scanLines(s.equityPath, func(line []byte) {
		var rec EquityRecord
		if json.Unmarshal(line, &rec) != nil {
			s.logger.Warn("skipping malformed equity row")
			return
		}
		if hasCutoff && rec.Timestamp.Before(cutoff) {
			return
		}
		out = append(out, rec)
	})
	return out, err
}

// LoadTrades returns up to limit of the most recent trade rows within the
// period, oldest first. limit <= 0 means no limit.
func (s *Store) LoadTrades(period string, limit int) ([]TradeRecord, error) {
	cutoff, hasCutoff, err := PeriodCutoff(period, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()

	var out []TradeRecord
	err = s.scanLines(s.tradesPath, func(line []byte) {
		var rec TradeRecord
		if json.Unmarshal(line, &rec) != nil {
			s.logger.Warn("skipping malformed trade row")
			return
		}
		if hasCutoff && rec.Timestamp.Before(cutoff) {
			return
		}
		out = append(out, rec)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) scanLines(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}
