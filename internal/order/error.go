package order

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPayable = errors.New("order is not awaiting payment")
	ErrInvalidPayPage  = errors.New("pay page url must be absolute")
	// ErrStatusConflict is returned when a compare-and-set status update loses
	// against a concurrent writer.
	ErrStatusConflict = errors.New("order status changed concurrently")
)
