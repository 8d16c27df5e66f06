package openeth

import (
	"errors"
	"fmt"
)

var (
	ErrNoMem              = errors.New("out of memory")
	ErrInvalidParam       = errors.New("invalid parameter")
	ErrHardwareState      = errors.New("controller is not in the expected state")
	ErrIRQ                = errors.New("interrupt controller failure")
	ErrAlreadyInitialized = errors.New("driver is already initialized")
	ErrClosed             = errors.New("driver is closed")
	ErrLengthOverflow     = errors.New("received frame exceeds the delivery buffer")
	ErrTxBusy             = errors.New("transmit descriptors are still owned by the controller")

	// ErrFrameTooLarge is returned by Transmit when the frame does not fit the
	// transmit ring. It matches ErrInvalidParam.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds the transmit ring", ErrInvalidParam)
)
