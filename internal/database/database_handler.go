package database

import (
	"fmt"
	"os"

	"github.com/arch4ngel/eavesarp/internal/domain"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultPath = "eavesarp.db"

type Config struct {
	ExistingDB  *gorm.DB
	Path        string
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool
	Migrations  []any
	Recreate    bool
}

type Option func(*Config)

// SetupDB opens (or adopts) a database connection and prepares the
// schema. Without options it opens DefaultPath in the working
// directory. Several connections can be live at once; merges read
// from one handle while writing to another.
func SetupDB(opts ...Option) (*gorm.DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var db *gorm.DB
	switch {
	case cfg.ExistingDB != nil:
		db = cfg.ExistingDB
	default:
		if cfg.Recreate && cfg.Path != "" {
			if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("database: remove %s: %w", cfg.Path, err)
			}
		}
		dialector := cfg.Dialector
		if dialector == nil {
			dialector = sqlite.Open(buildDSN(cfg.Path))
		}
		gormCfg := &gorm.Config{}
		if cfg.Logger != nil {
			gormCfg.Logger = cfg.Logger
		}
		opened, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: open connection: %w", err)
		}
		db = opened
		configureConnectionPool(db)
	}

	if cfg.AutoMigrate && len(cfg.Migrations) > 0 {
		if err := db.AutoMigrate(cfg.Migrations...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
	}

	return db, nil
}

func defaultConfig() Config {
	return Config{
		Path:        DefaultPath,
		Logger:      silentLogger(),
		AutoMigrate: true,
		Migrations:  defaultMigrations(),
	}
}

func buildDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}

func defaultMigrations() []any {
	return []any{
		domain.Host{},
		domain.Transaction{},
		domain.MergedSource{},
	}
}

func WithExistingDB(db *gorm.DB) Option {
	return func(cfg *Config) {
		cfg.ExistingDB = db
	}
}

func WithPath(path string) Option {
	return func(cfg *Config) {
		cfg.Path = path
	}
}

func WithDialector(d gorm.Dialector) Option {
	return func(cfg *Config) {
		cfg.Dialector = d
	}
}

func WithLogger(l logger.Interface) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func WithAutoMigrate(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AutoMigrate = enabled
	}
}

func WithMigrations(models ...any) Option {
	return func(cfg *Config) {
		if len(models) == 0 {
			cfg.Migrations = nil
			return
		}
		cfg.Migrations = append([]any(nil), models...)
	}
}

// WithRecreate removes the database file before opening, so the run
// starts from an empty schema.
func WithRecreate(enabled bool) Option {
	return func(cfg *Config) {
		cfg.Recreate = enabled
	}
}

func configureConnectionPool(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("database: get sql.DB", "error", err)
		return
	}

	// sqlite permits a single writer; extra connections would only
	// queue behind the busy timeout.
	sqlDB.SetMaxOpenConns(1)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: close: %w", err)
	}
	return sqlDB.Close()
}

func transactionRollbackHandler(tx *gorm.DB) {
	if r := recover(); r != nil {
		tx.Rollback()
		log.Errorf("Transaction rolled back due to panic: %v", r)
	}
}
