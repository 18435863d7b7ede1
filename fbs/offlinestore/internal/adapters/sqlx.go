package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXClient runs the offline store's statements on a sqlx handle.
type SQLXClient struct {
	db *sqlx.DB
}

// NewSQLXClient creates a Client backed by the given handle.
func NewSQLXClient(db *sqlx.DB) *SQLXClient {
	return &SQLXClient{db: db}
}

func (c *SQLXClient) ExecAppend(ctx context.Context, sqlStatement string) (int64, error) {
	result, err := c.db.ExecContext(ctx, sqlStatement)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (c *SQLXClient) QueryPayloads(ctx context.Context, sqlQuery string) ([][]byte, error) {
	rows, err := c.db.QueryxContext(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}

	return collectPayloads(rows.Rows)
}
