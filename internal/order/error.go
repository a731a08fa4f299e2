package order

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")

	// errNoChange aborts a locked update without writing and without failing.
	errNoChange = errors.New("order unchanged")
)
