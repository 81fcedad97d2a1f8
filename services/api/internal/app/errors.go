package app

import "fmt"

// StoreError wraps a failure of the object or document store. Its message
// is for logs only; clients get a generic server error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
