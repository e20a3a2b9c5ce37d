package broker

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// HistoryStore reads and writes the shared daily OHLCV cache at
// data/shared/historical/<SYMBOL>_daily.csv. The cache is universe-agnostic
// raw market data; the sim broker seeds its synthetic bars from it.
type HistoryStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewHistoryStore creates a store rooted at baseDir.
func NewHistoryStore(baseDir string, logger *zap.Logger) *HistoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{baseDir: baseDir, logger: logger.Named("history")}
}

func (h *HistoryStore) path(symbol string) string {
	return filepath.Join(h.baseDir, universe.SharedDataPath(
		filepath.Join("historical", symbol+"_daily.csv")))
}

// Load returns all cached daily bars for a symbol, oldest first. A missing
// cache file yields an empty slice.
func (h *HistoryStore) Load(symbol string) ([]types.Bar, error) {
	f, err := os.Open(h.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history %s: %w", symbol, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", symbol, err)
	}

	var bars []types.Bar
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "date" {
			continue
		}
		bar, err := parseBarRow(row)
		if err != nil {
			h.logger.Warn("skipping bad history row",
				zap.String("symbol", symbol), zap.Int("row", i), zap.Error(err))
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Save writes the full bar series for a symbol, replacing any prior cache.
func (h *HistoryStore) Save(symbol string, bars []types.Bar) error {
	path := h.path(symbol)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create history %s: %w", symbol, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, bar := range bars {
		row := []string{
			bar.Timestamp.UTC().Format("2006-01-02"),
			formatFloat(bar.Open),
			formatFloat(bar.High),
			formatFloat(bar.Low),
			formatFloat(bar.Close),
			formatFloat(bar.Volume),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func parseBarRow(row []string) (types.Bar, error) {
	if len(row) < 6 {
		return types.Bar{}, fmt.Errorf("want 6 columns, got %d", len(row))
	}
	ts, err := time.Parse("2006-01-02", row[0])
	if err != nil {
		return types.Bar{}, fmt.Errorf("bad date %q: %w", row[0], err)
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("bad value %q: %w", row[i+1], err)
		}
		vals[i] = v
	}
	return types.Bar{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
