package offlinestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/bibsdb/bibselv/fbs"
	"github.com/bibsdb/bibselv/fbs/offlinestore/internal/adapters"
)

const (
	defaultTableName = "offline_transactions"

	logMsgBuildAppendQueryFailed = "failed to build append statement"
	logMsgBuildReadQueryFailed   = "failed to build read query"
	logMsgDBExecFailed           = "database execution failed during record append"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgRecordAppended         = "offline record appended"
	logMsgSQLExecuted            = "executed sql for: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrFileKey               = "file_key"
	logAttrDurationMS            = "duration_ms"
	logActionAppend              = "append"
	logActionRead                = "read"

	colID      = "id"
	colFileKey = "file_key"
	colPayload = "payload"

	cteLock = "lock"

	dialectPostgres = "postgres"
	castText        = "?::text"
	castJsonb       = "?::jsonb"
	lockExpression  = "pg_advisory_xact_lock(hashtext(?::text))"
)

// Store is the Postgres engine implementing fbs.AppendOnlyStore. It writes
// one row per accepted offline transaction and serializes concurrent appends
// to the same file key through a transaction scoped advisory lock taken
// inside the insert statement itself.
type Store struct {
	db        adapters.Client
	tableName string
	logger    fbs.Logger
	ctxLogger fbs.ContextualLogger
}

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithTableName sets the table name for the Store.
func WithTableName(tableName string) Option {
	return func(s *Store) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		s.tableName = tableName

		return nil
	}
}

// WithStoreLogger sets the logger for the Store.
//
// Debug level: SQL statements with execution timing (development use)
// Info level: appended records with file key (production-safe)
// Error level: failures that cause operation errors.
func WithStoreLogger(logger fbs.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithStoreContextualLogger sets the context-aware logger for the Store. When
// set, it takes precedence over the plain logger so every line correlates
// with the calling trace.
func WithStoreContextualLogger(logger fbs.ContextualLogger) Option {
	return func(s *Store) error {
		s.ctxLogger = logger
		return nil
	}
}

// NewStoreFromPGXPool creates a new Store using a pgx Pool with optional
// configuration.
func NewStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXClient(db), options...)
}

// NewStoreFromSQLDB creates a new Store using a sql.DB with optional
// configuration.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLClient(db), options...)
}

// NewStoreFromSQLX creates a new Store using a sqlx.DB with optional
// configuration.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXClient(db), options...)
}

func newStore(db adapters.Client, options ...Option) (Store, error) {
	store := Store{
		db:        db,
		tableName: defaultTableName,
	}

	for _, option := range options {
		if err := option(&store); err != nil {
			return Store{}, err
		}
	}

	return store, nil
}

// Append durably writes one record under the given file key. It returns only
// after the database confirmed the write; appends to the same file key are
// mutually exclusive, the advisory lock is held for the statement's
// transaction.
func (s Store) Append(ctx context.Context, fileKey string, payload []byte) error {
	if fileKey == "" {
		return ErrEmptyFileKey
	}

	sqlQuery, buildErr := s.buildAppendQuery(ctx, fileKey, payload)
	if buildErr != nil {
		return buildErr
	}

	start := time.Now()
	rowsAffected, execErr := s.db.ExecAppend(ctx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, sqlQuery, logActionAppend, duration)

	if execErr != nil {
		s.logError(ctx, logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrFileKey, fileKey)

		return errors.Join(ErrAppendingRecordFailed, execErr)
	}

	if rowsAffected != 1 {
		return ErrAppendingRecordFailed
	}

	s.logInfo(ctx, logMsgRecordAppended,
		logAttrFileKey, fileKey,
		logAttrDurationMS, durationToMilliseconds(duration),
	)

	return nil
}

// Entries returns the payloads recorded under the given file key in append
// order. The fallback never reads back what it wrote; this exists for the
// reconciliation side and for operational tooling.
func (s Store) Entries(ctx context.Context, fileKey string) ([][]byte, error) {
	if fileKey == "" {
		return nil, ErrEmptyFileKey
	}

	sqlQuery, buildErr := s.buildReadQuery(ctx, fileKey)
	if buildErr != nil {
		return nil, buildErr
	}

	start := time.Now()
	payloads, queryErr := s.db.QueryPayloads(ctx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, sqlQuery, logActionRead, duration)

	if queryErr != nil {
		s.logError(ctx, logMsgDBQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, sqlQuery)

		return nil, errors.Join(ErrReadingEntriesFailed, queryErr)
	}

	return payloads, nil
}

func (s Store) buildAppendQuery(ctx context.Context, fileKey string, payload []byte) (string, error) {
	builder := goqu.Dialect(dialectPostgres)

	lockStmt := builder.Select(goqu.L(lockExpression, fileKey))

	selectStmt := builder.
		From(cteLock).
		Select(
			goqu.L(castText, fileKey).As(colFileKey),
			goqu.L(castJsonb, string(payload)).As(colPayload),
		)

	insertStmt := builder.
		Insert(s.tableName).
		Cols(colFileKey, colPayload).
		FromQuery(selectStmt).
		With(cteLock, lockStmt)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		s.logError(ctx, logMsgBuildAppendQueryFailed, logAttrError, toSQLErr.Error(), logAttrFileKey, fileKey)

		return "", errors.Join(ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (s Store) buildReadQuery(ctx context.Context, fileKey string) (string, error) {
	builder := goqu.Dialect(dialectPostgres)

	selectStmt := builder.
		From(s.tableName).
		Select(colPayload).
		Where(goqu.C(colFileKey).Eq(fileKey)).
		Order(goqu.C(colID).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		s.logError(ctx, logMsgBuildReadQueryFailed, logAttrError, toSQLErr.Error(), logAttrFileKey, fileKey)

		return "", errors.Join(ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// The logging helpers prefer the context-aware logger, so SQL timings and
// failures correlate with the calling trace.

func (s Store) logQueryWithDuration(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	args := []any{
		logAttrQuery, sqlQuery,
		logAttrDurationMS, durationToMilliseconds(duration),
	}

	if s.ctxLogger != nil {
		s.ctxLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
		return
	}

	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+action, args...)
	}
}

func (s Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.ctxLogger != nil {
		s.ctxLogger.InfoContext(ctx, msg, args...)
		return
	}

	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s Store) logError(ctx context.Context, msg string, args ...any) {
	if s.ctxLogger != nil {
		s.ctxLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}

func durationToMilliseconds(duration time.Duration) float64 {
	return float64(duration.Nanoseconds()) / 1e6
}
