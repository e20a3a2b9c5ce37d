package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// SectorMap maps symbol to sector name.
type SectorMap map[string]string

// SectorLoader resolves the symbol-to-sector map from inline JSON or a
// shared file, caching parsed maps keyed by (path, inline) so risk checks
// do not reread the file on every signal.
type SectorLoader struct {
	logger *zap.Logger
	cache  *cache.Cache
}

// NewSectorLoader creates a loader with a short-lived parse cache.
func NewSectorLoader(logger *zap.Logger) *SectorLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectorLoader{
		logger: logger.Named("sector_map"),
		cache:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Load returns the sector map. Inline JSON wins over the file path. A
// missing or malformed source logs a warning and yields an empty map,
// which disables the sector exposure check.
func (l *SectorLoader) Load(path, inlineJSON string) SectorMap {
	key := path + "\x00" + inlineJSON
	if cached, ok := l.cache.Get(key); ok {
		return cached.(SectorMap)
	}

	m := l.load(path, inlineJSON)
	l.cache.Set(key, m, cache.DefaultExpiration)
	return m
}

func (l *SectorLoader) load(path, inlineJSON string) SectorMap {
	raw := []byte(inlineJSON)
	if strings.TrimSpace(inlineJSON) == "" {
		if path == "" {
			return SectorMap{}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("sector map unavailable, exposure check disabled",
				zap.String("path", path), zap.Error(err))
			return SectorMap{}
		}
		raw = data
	}

	var parsed map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		l.logger.Warn("sector map malformed, exposure check disabled",
			zap.String("path", path), zap.Error(err))
		return SectorMap{}
	}

	m := make(SectorMap, len(parsed))
	for sym, sector := range parsed {
		m[strings.ToUpper(strings.TrimSpace(sym))] = sector
	}
	return m
}

// Sector returns the sector for a symbol, or "" when unmapped.
func (m SectorMap) Sector(symbol string) string {
	return m[strings.ToUpper(strings.TrimSpace(symbol))]
}

// Validate checks a sector map document for use by config endpoints.
func ValidateSectorJSON(inlineJSON string) error {
	var parsed map[string]string
	if err := json.Unmarshal([]byte(inlineJSON), &parsed); err != nil {
		return fmt.Errorf("sector map must be a JSON object of symbol to sector: %w", err)
	}
	return nil
}
