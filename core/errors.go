// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
)

// ErrNotAuthorized is returned when a device token or admin credential
// does not match. Maps to 401 at the HTTP boundary, with no side effects.
var ErrNotAuthorized = errors.New("not authorized")

// ErrNotFound is returned when there is no data for the requested device.
var ErrNotFound = errors.New("not found")

// ErrInvalidPayload is returned when an ingestion payload fails validation.
var ErrInvalidPayload = errors.New("invalid payload")

// PersistenceError wraps a failed storage write. A persistence error is
// fatal to the current ingestion attempt and always surfaces to the
// producer: a 5xx for HTTP callers, logged-and-dropped on the bus path.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %s", e.Op, e.Err.Error())
}

// Unwrap makes the wrapped database error available to errors.Is/As.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
