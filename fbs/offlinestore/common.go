package offlinestore

import "errors"

var (
	// ErrNilDatabaseConnection occurs when a Store is constructed without a
	// database connection.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName occurs when an empty table name is supplied.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrEmptyFileKey occurs when an append or read is attempted without a
	// file key; the key names the reconciliation stream and the advisory
	// lock, so it can never be empty.
	ErrEmptyFileKey = errors.New("file key must not be empty")

	// ErrBuildingQueryFailed occurs when the SQL statement could not be built.
	ErrBuildingQueryFailed = errors.New("building the SQL statement failed")

	// ErrAppendingRecordFailed occurs when the insert statement failed to
	// execute.
	ErrAppendingRecordFailed = errors.New("appending the offline record failed")

	// ErrReadingEntriesFailed occurs when reading the records of a file key
	// failed.
	ErrReadingEntriesFailed = errors.New("reading the offline records failed")
)
