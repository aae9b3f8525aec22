// Package pgxutil bridges a database/sql pool backed by the pgx stdlib
// driver to native pgx transactions, so repositories can use pgx-typed
// queries while the rest of the process shares one *sql.DB.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// TxConfig groups parameters for WithPgxTx.
type TxConfig struct {
	Opts *sql.TxOptions
	Fn   func(pgx.Tx) error
}

// WithPgxTx checks a connection out of db, starts a pgx transaction on it
// and runs cfg.Fn inside. The transaction commits when Fn returns nil and
// rolls back otherwise. The connection goes back to the pool either way.
func WithPgxTx(ctx context.Context, db *sql.DB, cfg TxConfig) error {
	return withRawConn(ctx, db, func(conn *pgx.Conn) error {
		tx, err := conn.BeginTx(ctx, pgxTxOptions(cfg.Opts))
		if err != nil {
			return fmt.Errorf("begin pgx tx: %w", err)
		}
		defer func() {
			// No-op after a successful commit.
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				_ = rbErr
			}
		}()
		if err := cfg.Fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit pgx tx: %w", err)
		}
		return nil
	})
}

// withRawConn unwraps the stdlib driver connection underneath a pooled
// *sql.Conn and hands the native *pgx.Conn to fn.
func withRawConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("checkout conn: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		std, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("driver connection is %T, not *stdlib.Conn", driverConn)
		}
		return fn(std.Conn())
	})
}

func pgxTxOptions(opts *sql.TxOptions) pgx.TxOptions {
	if opts == nil {
		return pgx.TxOptions{}
	}
	out := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if opts.ReadOnly {
		out.AccessMode = pgx.ReadOnly
	}
	switch opts.Isolation {
	case sql.LevelSerializable, sql.LevelLinearizable:
		out.IsoLevel = pgx.Serializable
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		out.IsoLevel = pgx.RepeatableRead
	case sql.LevelReadCommitted, sql.LevelWriteCommitted:
		out.IsoLevel = pgx.ReadCommitted
	case sql.LevelReadUncommitted:
		out.IsoLevel = pgx.ReadUncommitted
	}
	return out
}
