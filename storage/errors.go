package storage

import (
	"errors"

	"virtius.io/virtius/errs"
)

var (
	ErrNotFound       = errors.New("storage: not found")
	ErrInvalidCID     = errors.New("storage: invalid cid")
	ErrCIDMismatch    = errors.New("storage: cid mismatch")
	ErrImmutable      = errors.New("storage: immutable object mismatch")
	ErrInvalidLocator = errors.New("storage: invalid locator")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Wrap tags err as an errs.KindStorage failure of op. The sentinel stays
// reachable through errors.Is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errs.IsKind(err, errs.KindStorage) {
		return err
	}
	return errs.Wrap(errs.KindStorage, op, "storage operation failed", err)
}
