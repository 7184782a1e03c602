package types

import (
	"errors"
	"fmt"
)

// Status is the error code carried on the wire and returned by every
// peripheral and transport operation. It satisfies error so it can be
// wrapped with fmt.Errorf and recovered with errors.Is / StatusOf.
type Status string

const (
	StatusOk                Status = "Ok"
	StatusUnknown           Status = "Unknown"
	StatusInvalidArgument   Status = "InvalidArgument"
	StatusInvalidState      Status = "InvalidState"
	StatusInvalidOperation  Status = "InvalidOperation"
	StatusOperationFailed   Status = "OperationFailed"
	StatusUnhandled         Status = "Unhandled"
	StatusConnectionRefused Status = "ConnectionRefused"
	StatusConnectionClosed  Status = "ConnectionClosed"
	StatusTimeout           Status = "Timeout"
	StatusWouldBlock        Status = "WouldBlock"
	StatusMessageTooLarge   Status = "MessageTooLarge"
)

var statuses = []Status{
	StatusOk,
	StatusUnknown,
	StatusInvalidArgument,
	StatusInvalidState,
	StatusInvalidOperation,
	StatusOperationFailed,
	StatusUnhandled,
	StatusConnectionRefused,
	StatusConnectionClosed,
	StatusTimeout,
	StatusWouldBlock,
	StatusMessageTooLarge,
}

func (s Status) Error() string { return string(s) }

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known codes.
func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Err returns nil for StatusOk and s otherwise.
func (s Status) Err() error {
	if s == StatusOk {
		return nil
	}
	return s
}

// Transient reports whether an operation that failed with s may succeed
// when retried.
func (s Status) Transient() bool {
	return s == StatusWouldBlock || s == StatusTimeout
}

// ParseStatus returns the Status spelled by name.
func ParseStatus(name string) (Status, error) {
	s := Status(name)
	if !s.Valid() {
		return StatusUnknown, fmt.Errorf("unknown status %q: %w", name, StatusInvalidArgument)
	}
	return s, nil
}

// StatusOf extracts the first Status found in err's chain. A nil error
// is StatusOk; an error carrying no Status is StatusUnknown.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusUnknown
}

// Statuses lists every known code in declaration order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}
