package cfbstore

import "go.uber.org/zap"

type UpdateMode int

const (
	ReadOnly UpdateMode = iota
	Update
)

func (m UpdateMode) String() string {
	if m == Update {
		return "update"
	}
	return "read-only"
}

type Config struct {
	// SectorRecycle reuses freed sectors before growing the file.
	SectorRecycle bool
	// Validation selects how strictly headers and tables are checked on load.
	Validation Validation
	// Version is the format version of newly created files.
	Version Version
	// CacheSize is the number of clean sectors kept in memory.
	CacheSize int
	Logger    *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		SectorRecycle: false,
		Validation:    ValidationPermissive,
		Version:       V3,
		CacheSize:     defaultCacheSize,
		Logger:        zap.NewNop(),
	}
}

func (c Config) logger() *zap.Logger {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("component", "cfbstore"))
}

func (c Config) version() Version {
	if c.Version == V4 {
		return V4
	}
	return V3
}
