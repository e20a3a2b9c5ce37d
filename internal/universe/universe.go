// Package universe defines the execution universes and the immutable context
// that every universe-bound component carries.
//
// LIVE, PAPER and SIMULATION are separate realities, not modes. A component
// is bound to exactly one universe for its whole lifetime; switching requires
// a full teardown and rebuild of everything universe-bound.
package universe

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Universe is the execution reality a component operates in.
type Universe string

const (
	// Live trades real capital against live broker endpoints.
	Live Universe = "live"
	// Paper uses broker-mediated paper accounts with real market constraints.
	Paper Universe = "paper"
	// Simulation uses the in-memory sim broker and can run 24/7.
	Simulation Universe = "simulation"
)

// Validity classes for metrics produced in a universe.
const (
	ValidityLiveVerified       = "LIVE_VERIFIED"
	ValidityPaperOnly          = "PAPER_ONLY"
	ValiditySimValidTraining   = "SIM_VALID_FOR_TRAINING"
	ValiditySimInvalidTraining = "SIM_INVALID_FOR_TRAINING"
)

// FromString parses a universe name, case-insensitively.
func FromString(value string) (Universe, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "live":
		return Live, nil
	case "paper":
		return Paper, nil
	case "simulation":
		return Simulation, nil
	default:
		return "", fmt.Errorf("invalid universe %q: must be one of live, paper, simulation", value)
	}
}

func (u Universe) String() string { return string(u) }

// Valid reports whether u is one of the three known universes.
func (u Universe) Valid() bool {
	return u == Live || u == Paper || u == Simulation
}

// IsRealCapital reports whether trades in this universe have irreversible
// financial consequences. Only LIVE does.
func (u Universe) IsRealCapital() bool { return u == Live }

// AllowsMarketHoursOverride reports whether the universe may trade outside
// real market hours. SIMULATION can run around the clock.
func (u Universe) AllowsMarketHoursOverride() bool { return u == Simulation }

// RequiresExplicitConfirmation reports whether deploying into this universe
// needs an explicit operator confirmation (LIVE_TRADING_CONFIRMED=true).
func (u Universe) RequiresExplicitConfirmation() bool { return u == Live }

// DefaultValidityClass returns the trust tier metrics from this universe
// carry unless a producer overrides it.
func (u Universe) DefaultValidityClass() string {
	switch u {
	case Live:
		return ValidityLiveVerified
	case Paper:
		return ValidityPaperOnly
	default:
		return ValiditySimValidTraining
	}
}

// Context is the immutable provenance record carried through the system.
// It lives exactly as long as one Coordinator; a destructive transition
// replaces it wholesale.
type Context struct {
	universe      Universe
	sessionID     string
	createdAt     time.Time
	dataLineageID string
	validityClass string
}

// NewContext creates a context for a universe, generating a fresh session id.
func NewContext(u Universe) (*Context, error) {
	return NewContextWithSession(u, "", "")
}

// NewContextWithSession creates a context with explicit session and lineage
// ids. Empty values are generated/defaulted.
func NewContextWithSession(u Universe, sessionID, dataLineageID string) (*Context, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("invalid universe %q", u)
	}
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	return &Context{
		universe:      u,
		sessionID:     sessionID,
		createdAt:     time.Now().UTC(),
		dataLineageID: dataLineageID,
		validityClass: u.DefaultValidityClass(),
	}, nil
}

func generateSessionID() string {
	return fmt.Sprintf("session_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (c *Context) Universe() Universe     { return c.universe }
func (c *Context) SessionID() string      { return c.sessionID }
func (c *Context) CreatedAt() time.Time   { return c.createdAt }
func (c *Context) DataLineageID() string  { return c.dataLineageID }
func (c *Context) ValidityClass() string  { return c.validityClass }

// DataPath returns the universe-scoped data path, e.g.
// data/simulation/config_state.json.
func DataPath(u Universe, filename string) string {
	return filepath.Join("data", u.String(), filename)
}

// LogPath returns the universe-scoped log path, e.g. logs/live/trades.jsonl.
func LogPath(u Universe, filename string) string {
	return filepath.Join("logs", u.String(), filename)
}

// SystemLogPath returns the universe-scoped system log path used by the
// observability, session logger and test agents.
func SystemLogPath(u Universe, filename string) string {
	return filepath.Join("logs", u.String(), "system", filename)
}

// SharedDataPath returns a universe-agnostic path under data/shared. Only use
// for genuinely shared assets: the sector map and the historical bar cache.
func SharedDataPath(filename string) string {
	return filepath.Join("data", "shared", filename)
}

// Transition is the audit record produced when validating a universe switch.
type Transition struct {
	FromUniverse string    `json:"from_universe"`
	ToUniverse   string    `json:"to_universe"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
	TransitionID string    `json:"transition_id"`
}

// ValidateTransition checks a destructive universe transition and returns
// audit metadata. Transitions are never toggles: from == to is an error.
func ValidateTransition(from, to Universe, reason string) (*Transition, error) {
	if from == to {
		return nil, fmt.Errorf("cannot transition to same universe: %s", from)
	}
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("invalid transition %q -> %q", from, to)
	}
	return &Transition{
		FromUniverse: from.String(),
		ToUniverse:   to.String(),
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
		TransitionID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}, nil
}
