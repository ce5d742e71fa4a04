package models

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/card_audit_backend/utils"
)

var (
	ErrActiveSessionExists = errors.New("an active audit session already exists")
	ErrNotFound            = utils.ErrorRecordNotFound
	ErrInvalidState        = errors.New("audit session or item is not in a valid state for this operation")
	ErrSiblingNotFound     = errors.New("no opposite-finish sibling in the same container")
	// the inventory cannot produce a valid snapshot for the requested scope
	ErrSnapshotInconsistent = errors.New("inventory snapshot is inconsistent")
	ErrInvalidInput         = errors.New("invalid input")
)

// ActiveSessionError carries the session that blocked a start.
type ActiveSessionError struct {
	Session *AuditSession
}

func (e *ActiveSessionError) Error() string {
	if e.Session == nil {
		return ErrActiveSessionExists.Error()
	}
	return fmt.Sprintf("%s (session %d)", ErrActiveSessionExists.Error(), e.Session.ID)
}

func (e *ActiveSessionError) Unwrap() error { return ErrActiveSessionExists }

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func invalidState(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, msg)
}

func snapshotInconsistent(msg string) error {
	return fmt.Errorf("%w: %s", ErrSnapshotInconsistent, msg)
}
