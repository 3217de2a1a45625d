package domain

import "time"

type MemberRole string

const (
	RoleMember    MemberRole = "Member"
	RoleLibrarian MemberRole = "Librarian"
)

type MemberStatus string

const (
	MemberActive   MemberStatus = "Active"
	MemberInactive MemberStatus = "Inactive"
)

type LoanStatus string

const (
	LoanOnLoan   LoanStatus = "On Loan"
	LoanOverdue  LoanStatus = "Overdue"
	LoanReturned LoanStatus = "Returned"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

type Book struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	Year            int      `json:"year"`
	ISBN            string   `json:"isbn"`
	Publisher       string   `json:"publisher"`
	Language        string   `json:"language"`
	DDC             string   `json:"ddc"`
	Tags            []string `json:"tags"`
	TotalCopies     int      `json:"totalCopies"`
	AvailableCopies int      `json:"availableCopies"`
}

type Member struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Email  string       `json:"email"`
	Phone  string       `json:"phone"`
	Role   MemberRole   `json:"role"`
	Status MemberStatus `json:"status"`
}

type Loan struct {
	ID       string    `json:"id"`
	BookID   string    `json:"bookId"`
	MemberID string    `json:"memberId"`
	LoanDate time.Time `json:"loanDate"`
	DueDate  time.Time `json:"dueDate"`
	// ReturnDate is zero unless Status is LoanReturned.
	ReturnDate time.Time  `json:"returnDate,omitzero"`
	Status     LoanStatus `json:"status"`
}

// EffectiveStatus derives the display status: an open loan past its due
// date reads as Overdue. Overdue is never written back to the store.
func (l Loan) EffectiveStatus(now time.Time) LoanStatus {
	if l.Status == LoanReturned {
		return LoanReturned
	}
	if !l.DueDate.IsZero() && now.After(l.DueDate) {
		return LoanOverdue
	}
	return LoanOnLoan
}

// User is the account record kept outside the spreadsheet. An empty
// SheetID means the library store is not connected yet.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	DisplayName        string    `json:"displayName"`
	Role               UserRole  `json:"role"`
	SheetID            string    `json:"sheetId,omitempty"`
	Plan               Plan      `json:"plan"`
	SubscriptionStatus string    `json:"subscriptionStatus"`
	LibraryName        string    `json:"libraryName,omitempty"`
	// Settings holds free-form per-user preferences (locale, theme).
	Settings  map[string]string `json:"settings,omitempty"`
	LastLogin time.Time         `json:"lastLogin,omitzero"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Patch types carry partial updates. Nil fields keep the stored value.

type BookPatch struct {
	Title           *string   `json:"title"`
	Author          *string   `json:"author"`
	Year            *int      `json:"year"`
	ISBN            *string   `json:"isbn"`
	Publisher       *string   `json:"publisher"`
	Language        *string   `json:"language"`
	DDC             *string   `json:"ddc"`
	Tags            *[]string `json:"tags"`
	TotalCopies     *int      `json:"totalCopies"`
	AvailableCopies *int      `json:"availableCopies"`
}

type MemberPatch struct {
	Name   *string       `json:"name"`
	Email  *string       `json:"email"`
	Phone  *string       `json:"phone"`
	Role   *MemberRole   `json:"role"`
	Status *MemberStatus `json:"status"`
}

type LoanPatch struct {
	BookID     *string     `json:"bookId"`
	MemberID   *string     `json:"memberId"`
	LoanDate   *time.Time  `json:"loanDate"`
	DueDate    *time.Time  `json:"dueDate"`
	ReturnDate *time.Time  `json:"returnDate"`
	Status     *LoanStatus `json:"status"`
}

// Apply merges the patch over b. The ID is never patched.
func (p BookPatch) Apply(b Book) Book {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Year != nil {
		b.Year = *p.Year
	}
	if p.ISBN != nil {
		b.ISBN = *p.ISBN
	}
	if p.Publisher != nil {
		b.Publisher = *p.Publisher
	}
	if p.Language != nil {
		b.Language = *p.Language
	}
	if p.DDC != nil {
		b.DDC = *p.DDC
	}
	if p.Tags != nil {
		b.Tags = *p.Tags
	}
	if p.TotalCopies != nil {
		b.TotalCopies = *p.TotalCopies
	}
	if p.AvailableCopies != nil {
		b.AvailableCopies = *p.AvailableCopies
	}
	return b
}

// Apply merges the patch over m. The ID is never patched.
func (p MemberPatch) Apply(m Member) Member {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Email != nil {
		m.Email = *p.Email
	}
	if p.Phone != nil {
		m.Phone = *p.Phone
	}
	if p.Role != nil {
		m.Role = *p.Role
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	return m
}

// Apply merges the patch over l. The ID is never patched.
func (p LoanPatch) Apply(l Loan) Loan {
	if p.BookID != nil {
		l.BookID = *p.BookID
	}
	if p.MemberID != nil {
		l.MemberID = *p.MemberID
	}
	if p.LoanDate != nil {
		l.LoanDate = *p.LoanDate
	}
	if p.DueDate != nil {
		l.DueDate = *p.DueDate
	}
	if p.ReturnDate != nil {
		l.ReturnDate = *p.ReturnDate
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	return l
}
