package pipeline

import (
	"errors"
	"fmt"

	"wqm/internal"
)

var (
	// ErrInputUnavailable means the raw log could not be opened or read.
	ErrInputUnavailable = errors.New("input unavailable")
	// ErrNoHeaderFound means an instrument with data lines could not be
	// given a header, so its rows cannot be reconciled.
	ErrNoHeaderFound = errors.New("no header found")
	// ErrSchemaMismatch marks a row whose shape disagrees with its header
	// or with the canonical schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrNoLedger is returned by operations on stored logs when the
	// service was built without a database.
	ErrNoLedger = errors.New("no ledger database")
)

type RowError struct {
	Instrument internal.InstrumentID
	LineNo     int
	Reason     string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("instrument %s line %d: %s", e.Instrument, e.LineNo, e.Reason)
}

func (e *RowError) Unwrap() error { return ErrSchemaMismatch }
