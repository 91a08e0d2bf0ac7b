package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const driverPostgres = "postgres"

// RefreshTokenMinter signs the raw refresh token whose hash Rotate persists.
type RefreshTokenMinter interface {
	SignRefresh(subject string, email string) (string, int64, error)
}

// Store owns the users table and the refresh token state machine, backed by
// GORM over PostgreSQL or SQLite.
type Store struct {
	db          *gorm.DB
	minter      RefreshTokenMinter
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *Store) Driver() string {
	return store.driverLabel
}

// NewStore opens the database selected by URL scheme and migrates the schema.
func NewStore(ctx context.Context, databaseURL string, minter RefreshTokenMinter) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("store.open: %w", errEmptyDatabaseURL)
	}
	if minter == nil {
		return nil, fmt.Errorf("store.open: %w", ErrMissingMinter)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}, &refreshTokenRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &Store{
		db:          gormDB,
		minter:      minter,
		driverLabel: driverLabel,
	}, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), driverPostgres, nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
