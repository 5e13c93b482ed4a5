package journal

import (
	"fmt"
	"time"
)

// Type selects the journal implementation
type Type string

const (
	// BadgerJournal persists transitions on disk
	BadgerJournal Type = "badger"

	// MemoryJournal keeps recent transitions in memory only
	MemoryJournal Type = "memory"
)

// Config contains journal configuration
type Config struct {
	Type Type

	// Badger settings
	DataDir      string
	BatchSize    int
	SyncInterval time.Duration
	SyncWrites   bool
	Retention    time.Duration

	// Memory settings
	MemoryCapacity int

	// ListLimit is the default number of records returned by List
	ListLimit int
}

// DefaultConfig returns a default journal configuration
func DefaultConfig() Config {
	return Config{
		Type:           MemoryJournal,
		DataDir:        "./data",
		BatchSize:      64,
		SyncInterval:   50 * time.Millisecond,
		Retention:      7 * 24 * time.Hour,
		MemoryCapacity: 1024,
		ListLimit:      100,
	}
}

// New creates the journal selected by config.Type
func New(config Config) (Journal, error) {
	switch config.Type {
	case BadgerJournal:
		return NewBadger(config)
	case MemoryJournal, "":
		return NewMemory(config.MemoryCapacity), nil
	default:
		return nil, fmt.Errorf("unknown journal type: %q", config.Type)
	}
}
