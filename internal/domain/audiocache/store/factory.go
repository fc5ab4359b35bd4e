package store

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	platformerrors "chatvoice/internal/platform/errors"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies carries handles owned by the caller. The SQLite driver shares
// the application database instead of opening its own.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// NormalizeDriver lowercases name and maps "" to the memory driver.
func NormalizeDriver(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DriverMemory
	}
	return name
}

// New opens the store selected by cfg.Driver.
func New(cfg Config, deps Dependencies) (Store, error) {
	cfg.Driver = NormalizeDriver(cfg.Driver)

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, platformerrors.New(platformerrors.KindConfig, "store.new", "sqlite driver needs an open database")
		}
		s, err = NewSQLite(deps.SQLiteDB, cfg)
	case DriverRedis:
		s, err = NewRedis(cfg)
	default:
		return nil, platformerrors.New(platformerrors.KindConfig, "store.new",
			fmt.Sprintf("unsupported audio store driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, platformerrors.StoreFailure("store.new."+cfg.Driver, err)
	}
	return s, nil
}
