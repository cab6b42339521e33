package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// EnsurePrerequisites verifies the publication exists and creates the
// logical replication slot if it is missing. The publication is an external
// contract (the upstream selects which relations appear in the stream), so a
// missing one is fatal rather than created empty here.
func EnsurePrerequisites(ctx context.Context, pool *pgxpool.Pool, slot, publication string) error {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = $1)`,
		publication).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking publication: %w", err)
	}
	if !exists {
		return fmt.Errorf("publication %q does not exist", publication)
	}

	err = pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)`,
		slot).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking replication slot: %w", err)
	}
	if exists {
		return nil
	}

	_, err = pool.Exec(ctx,
		`SELECT pg_create_logical_replication_slot($1, 'pgoutput')`, slot)
	if err != nil {
		// 42710 duplicate_object: created concurrently, that's fine.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" {
			return nil
		}
		return fmt.Errorf("creating replication slot %q: %w", slot, err)
	}

	logrus.WithField("slot", slot).Info("created replication slot")
	return nil
}
