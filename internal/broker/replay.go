package broker

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// ReplayPath returns the intraday replay file for a symbol and date, e.g.
// data/replay/AAPL-20260826.csv.
func ReplayPath(baseDir, symbol string, date time.Time) string {
	name := fmt.Sprintf("%s-%s.csv", symbol, date.Format("20060102"))
	return filepath.Join(baseDir, "data", "replay", name)
}

// LoadReplayBars reads one symbol-day of recorded intraday bars, oldest
// first. A missing file yields an empty slice.
func LoadReplayBars(baseDir, symbol string, date time.Time) ([]types.Bar, error) {
	f, err := os.Open(ReplayPath(baseDir, symbol, date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open replay %s: %w", symbol, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", symbol, err)
	}

	var bars []types.Bar
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "timestamp" {
			continue
		}
		if len(row) < 6 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				ok = false
				break
			}
			vals[j] = v
		}
		if !ok {
			continue
		}
		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return bars, nil
}

// AppendReplayBar appends one intraday bar to the symbol-day replay file,
// creating it with a header when absent. Used by the replay recorder.
func AppendReplayBar(baseDir, symbol string, bar types.Bar) error {
	path := ReplayPath(baseDir, symbol, bar.Timestamp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create replay dir: %w", err)
	}

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open replay %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
			return err
		}
	}
	row := []string{
		bar.Timestamp.UTC().Format(time.RFC3339),
		formatFloat(bar.Open),
		formatFloat(bar.High),
		formatFloat(bar.Low),
		formatFloat(bar.Close),
		formatFloat(bar.Volume),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
