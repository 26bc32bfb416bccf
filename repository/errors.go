package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTerminalState is returned when a conditional transition finds the row
	// already outside the state it was expected to leave.
	ErrTerminalState = errors.New("record is already in a terminal state")
)

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
