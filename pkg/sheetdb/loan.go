package sheetdb

import (
	"context"
	"fmt"
	"time"

	"gundeshapur/pkg/domain"
)

// LoanPeriod is the default time between loan date and due date.
const LoanPeriod = 14 * 24 * time.Hour

// txnState tracks the compensating-action protocol for the cross-sheet
// loan creation. The backing store has no transactions, so the only
// recovery for a failed second write is undoing the first by hand -- and
// when that undo itself fails, the inventory is left wrong and the
// outcome must be visible, not swallowed.
type txnState int

const (
	txnPending txnState = iota
	txnCommitted
	txnRolledBack
	txnInconsistent
)

func (t txnState) String() string {
	switch t {
	case txnPending:
		return "pending"
	case txnCommitted:
		return "committed"
	case txnRolledBack:
		return "rolled back"
	case txnInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// CreateLoan lends a book to a member: it checks the member is Active
// and the book has copies left, decrements availableCopies on the Books
// sheet, then appends the Loan row. The decrement happens first so a
// failed append can never leave a phantom loan; if the append fails the
// original count is written back best-effort.
//
// Two sequential reads and writes with no lock: concurrent calls for the
// last copy of a book can both get through the availability check. See
// the Store doc comment.
func (s *Store) CreateLoan(ctx context.Context, bookID, memberID string) (domain.Loan, error) {
	member, _, _, ok, err := getRow(ctx, s, memberTable, memberID)
	if err != nil {
		return domain.Loan{}, err
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("member %q: %w", memberID, ErrMemberNotFound)
	}
	if member.Status != domain.MemberActive {
		return domain.Loan{}, fmt.Errorf("member %q: %w", memberID, ErrMemberInactive)
	}

	book, bookRow, bookInfo, ok, err := getRow(ctx, s, bookTable, bookID)
	if err != nil {
		return domain.Loan{}, err
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("book %q: %w", bookID, ErrBookNotFound)
	}
	if book.AvailableCopies <= 0 {
		return domain.Loan{}, fmt.Errorf("book %q: %w", bookID, ErrNoCopiesAvailable)
	}

	availCol, err := bookInfo.fields.Col("availableCopies")
	if err != nil {
		return domain.Loan{}, fmt.Errorf("sheet %q: %w", SheetBooks, err)
	}

	// First mutation: the protocol is pending from here until the loan
	// row lands.
	if err := s.writeCount(ctx, bookRow, availCol, book.AvailableCopies-1); err != nil {
		return domain.Loan{}, err
	}

	now := s.now()
	loan := domain.Loan{
		BookID:   bookID,
		MemberID: memberID,
		LoanDate: now,
		DueDate:  now.Add(LoanPeriod),
		Status:   domain.LoanOnLoan,
	}
	loan, appendErr := createRow(ctx, s, loanTable, loan)
	if appendErr == nil {
		return loan, nil
	}

	// Compensate: restore the original count. A failure here leaves the
	// inventory inconsistent until someone reconciles it by hand, which
	// is why it is logged at error level with both counts.
	state := txnRolledBack
	if undoErr := s.writeCount(ctx, bookRow, availCol, book.AvailableCopies); undoErr != nil {
		state = txnInconsistent
		s.logger.Error("loan rollback failed, inventory inconsistent",
			"spreadsheet", s.spreadsheetID,
			"book", bookID,
			"expected_available", book.AvailableCopies,
			"written_available", book.AvailableCopies-1,
			"error", undoErr,
		)
	}
	return domain.Loan{}, fmt.Errorf("%w (%s): %v", ErrLoanCreate, state, appendErr)
}

// ReturnLoan marks a loan returned and gives the copy back to the book.
// Returning an already-returned loan is a no-op, not an error. The
// loan-side write is the one that matters: if the book-side increment
// cannot be done afterwards, the return still stands and the bookkeeping
// failure is only reported.
func (s *Store) ReturnLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	loan, rowNum, info, ok, err := getRow(ctx, s, loanTable, loanID)
	if err != nil {
		return domain.Loan{}, err
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("loan %q: %w", loanID, ErrLoanNotFound)
	}
	if loan.Status == domain.LoanReturned {
		return loan, nil
	}

	loan.Status = domain.LoanReturned
	loan.ReturnDate = s.now()
	row := encodeLoan(loan, info.fields, info.width)
	if err := s.backend.WriteRange(ctx, s.spreadsheetID, RowSpan(SheetLoans, rowNum, info.width), [][]Cell{row}); err != nil {
		return domain.Loan{}, err
	}

	book, bookRow, bookInfo, ok, err := getRow(ctx, s, bookTable, loan.BookID)
	if err != nil || !ok {
		s.logger.Warn("returned loan references missing book, inventory not incremented",
			"spreadsheet", s.spreadsheetID,
			"loan", loanID,
			"book", loan.BookID,
			"error", err,
		)
		return loan, nil
	}
	availCol, err := bookInfo.fields.Col("availableCopies")
	if err == nil {
		err = s.writeCount(ctx, bookRow, availCol, book.AvailableCopies+1)
	}
	if err != nil {
		s.logger.Error("book inventory increment failed after return",
			"spreadsheet", s.spreadsheetID,
			"loan", loanID,
			"book", loan.BookID,
			"error", err,
		)
	}
	return loan, nil
}

// writeCount overwrites a single availableCopies cell on the Books sheet.
func (s *Store) writeCount(ctx context.Context, rowNum, col, count int) error {
	rng := Range{Sheet: SheetBooks, StartRow: rowNum, EndRow: rowNum, StartCol: col + 1, EndCol: col + 1}
	return s.backend.WriteRange(ctx, s.spreadsheetID, rng, [][]Cell{{NumberCell(float64(count))}})
}
