package store

import "errors"

var (
	// ErrHashMismatch indicates the presented refresh token does not match the
	// stored active hash. This signals replay of a superseded token.
	ErrHashMismatch = errors.New("refresh_store.hash_mismatch")
	// ErrIntegrityConflict indicates a storage constraint was violated, such as
	// a duplicate identity or a race that produced two active tokens.
	ErrIntegrityConflict = errors.New("store.integrity_conflict")
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("store.unsupported_dialect")
	// ErrMissingMinter indicates the store was built without a refresh token minter.
	ErrMissingMinter = errors.New("store.missing_minter")

	errEmptyDatabaseURL    = errors.New("store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("store.unsupported_no_scheme")
)
