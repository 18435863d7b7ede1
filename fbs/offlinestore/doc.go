// Package offlinestore provides the durable Postgres engine behind the
// offline fallback's append-only store. Each accepted offline transaction is
// one row; rows under the same file key form one reconciliation stream.
//
// Appends to the same file key are mutually exclusive across concurrent
// writers and across processes: the insert statement takes a transaction
// scoped advisory lock derived from the file key, so the lock is held
// exactly for the duration of the append.
//
// Expected table schema:
//
//	CREATE TABLE offline_transactions (
//	    id          BIGSERIAL PRIMARY KEY,
//	    file_key    TEXT NOT NULL,
//	    payload     JSONB NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX idx_offline_transactions_file_key ON offline_transactions (file_key);
//
// The engine supports pgx pools, database/sql and sqlx connections through
// the same constructor family.
package offlinestore
