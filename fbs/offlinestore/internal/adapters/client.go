package adapters

import "context"

// Client executes the two statements the offline store issues: the
// advisory-locked append insert and the payload read-back of one file key.
// Narrowing the surface to these two keeps the store independent of whether
// it runs on a pgx pool, database/sql or sqlx.
type Client interface {
	// ExecAppend runs the insert statement and reports how many rows it
	// wrote.
	ExecAppend(ctx context.Context, sqlStatement string) (int64, error)

	// QueryPayloads runs the read query and collects the payload column of
	// every row in result order.
	QueryPayloads(ctx context.Context, sqlQuery string) ([][]byte, error)
}
