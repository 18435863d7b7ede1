package adapters

import (
	"context"
	"database/sql"
	"errors"
)

// SQLClient runs the offline store's statements on a database/sql handle.
type SQLClient struct {
	db *sql.DB
}

// NewSQLClient creates a Client backed by the given handle.
func NewSQLClient(db *sql.DB) *SQLClient {
	return &SQLClient{db: db}
}

func (c *SQLClient) ExecAppend(ctx context.Context, sqlStatement string) (int64, error) {
	result, err := c.db.ExecContext(ctx, sqlStatement)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (c *SQLClient) QueryPayloads(ctx context.Context, sqlQuery string) ([][]byte, error) {
	rows, err := c.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}

	return collectPayloads(rows)
}

// collectPayloads drains a single-column result set into payload slices. It
// is shared with the sqlx client, whose rows embed *sql.Rows.
func collectPayloads(rows *sql.Rows) ([][]byte, error) {
	var payloads [][]byte

	for rows.Next() {
		var payload []byte

		if scanErr := rows.Scan(&payload); scanErr != nil {
			return nil, errors.Join(scanErr, rows.Close())
		}

		payloads = append(payloads, payload)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(err, rows.Close())
	}

	return payloads, rows.Close()
}
