package services

import (
	"database/sql"
	"errors"
	"log"
	"time"
)

const (
	txMaxAttempts = 3
	txBackoffBase = 50 * time.Millisecond
)

// runInTx executes fn inside a database transaction. The balance write and
// its transaction record commit or roll back as one unit; partial
// application is never a terminal state. Optimistic-lock conflicts
// (ErrPersistenceConflict) are retried with linear backoff before being
// surfaced.
func runInTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := attemptTx(db, fn)
		if err == nil || !errors.Is(err, ErrPersistenceConflict) || attempt >= txMaxAttempts {
			return err
		}
		log.Printf("[ENGINE] write conflict, retrying (attempt %d/%d)", attempt, txMaxAttempts)
		time.Sleep(txBackoffBase * time.Duration(attempt))
	}
}

func attemptTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
