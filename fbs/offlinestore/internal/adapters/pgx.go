package adapters

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGXClient runs the offline store's statements on a pgx connection pool.
type PGXClient struct {
	pool *pgxpool.Pool
}

// NewPGXClient creates a Client backed by the given pool.
func NewPGXClient(pool *pgxpool.Pool) *PGXClient {
	return &PGXClient{pool: pool}
}

func (c *PGXClient) ExecAppend(ctx context.Context, sqlStatement string) (int64, error) {
	tag, err := c.pool.Exec(ctx, sqlStatement)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (c *PGXClient) QueryPayloads(ctx context.Context, sqlQuery string) ([][]byte, error) {
	rows, err := c.pool.Query(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payloads [][]byte

	for rows.Next() {
		var payload []byte

		if scanErr := rows.Scan(&payload); scanErr != nil {
			return nil, scanErr
		}

		// pgx may hand out a view into its read buffer
		payloads = append(payloads, append([]byte(nil), payload...))
	}

	return payloads, rows.Err()
}
