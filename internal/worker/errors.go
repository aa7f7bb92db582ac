package worker

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// classify marks constraint and data errors as unpersistable. Anything else,
// such as a lost connection, stays retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23": // data exception, integrity constraint violation
			return fmt.Errorf("%w: %s", errDrop, pgErr.Message)
		}
	}
	return err
}
