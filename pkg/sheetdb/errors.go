package sheetdb

import "errors"

var (
	// ErrSchema indicates the header row of a sheet is missing or empty.
	ErrSchema = errors.New("sheet header row missing or empty")

	// ErrColumnMissing indicates a column the operation strictly needs
	// has no mapping in the header row.
	ErrColumnMissing = errors.New("required column not mapped")

	// ErrRecordNotFound is the generic miss for update and delete
	// targets. It is an expected outcome, not a system fault.
	ErrRecordNotFound = errors.New("record not found")

	ErrBookNotFound   = errors.New("book not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrLoanNotFound   = errors.New("loan not found")

	// ErrMemberInactive rejects loans for members whose status is not
	// Active.
	ErrMemberInactive = errors.New("member is not active")

	// ErrNoCopiesAvailable rejects a loan when the book has no copies
	// left. Business feedback for the caller, never logged as an error.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrLoanCreate wraps a store failure that occurred after the book
	// count was already decremented. The wrapped message names the
	// compensation outcome.
	ErrLoanCreate = errors.New("loan creation failed")
)
