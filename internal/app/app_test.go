package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gundeshapur/internal/usertoken"
	"gundeshapur/pkg/audit"
	"gundeshapur/pkg/backup"
	"gundeshapur/pkg/domain"
	"gundeshapur/pkg/sheetdb"
	"gundeshapur/pkg/userstore"
)

type fakeGenerator struct {
	answer string
	err    error

	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) GenerateText(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.answer, f.err
}

func newTestApp(t *testing.T) (*App, *sheetdb.MemoryBackend, *audit.MemoryRecorder) {
	t.Helper()
	backend := sheetdb.NewMemoryBackend()
	recorder := audit.NewMemoryRecorder()
	a, err := New(Config{
		Users:     userstore.NewMemoryStore(),
		Backend:   backend,
		Generator: &fakeGenerator{answer: "try Dune"},
		Objects:   backup.NewMemoryObjectStore(),
		Audit:     recorder,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, backend, recorder
}

func connectedUser(t *testing.T, a *App) domain.User {
	t.Helper()
	user, err := a.EnsureUser(claimsFor("u1", "alice@example.com"))
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	user, err = a.SetupCreate(context.Background(), user, "Test Library")
	if err != nil {
		t.Fatalf("setup create: %v", err)
	}
	return user
}

func claimsFor(subject, email string) usertoken.Claims {
	claims := usertoken.Claims{Email: email}
	claims.Subject = subject
	return claims
}

func TestEnsureUserProvisionsAccounts(t *testing.T) {
	a, _, _ := newTestApp(t)

	first, err := a.EnsureUser(claimsFor("u1", "alice@example.com"))
	if err != nil {
		t.Fatalf("ensure first: %v", err)
	}
	if first.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %q, want admin", first.Role)
	}
	if first.Plan != domain.PlanFree || first.LastLogin.IsZero() {
		t.Fatalf("unexpected first user: %+v", first)
	}

	second, err := a.EnsureUser(claimsFor("u2", "bob@example.com"))
	if err != nil {
		t.Fatalf("ensure second: %v", err)
	}
	if second.Role != domain.RoleUser {
		t.Fatalf("second user role = %q, want user", second.Role)
	}

	// Re-login resolves the same account.
	again, err := a.EnsureUser(claimsFor("u1", "alice@example.com"))
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.Role != domain.RoleAdmin {
		t.Fatalf("existing account lost role: %+v", again)
	}
}

func TestOperationsRequireConnectedLibrary(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	user, err := a.EnsureUser(claimsFor("u1", "alice@example.com"))
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if _, err := a.ListBooks(ctx, user); !errors.Is(err, ErrLibraryNotConnected) {
		t.Fatalf("list books: %v", err)
	}
	if _, err := a.Lend(ctx, user, "b", "m"); !errors.Is(err, ErrLibraryNotConnected) {
		t.Fatalf("lend: %v", err)
	}
}

func TestSetupCreateAndCRUD(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	user := connectedUser(t, a)
	if user.SheetID == "" || user.LibraryName != "Test Library" {
		t.Fatalf("setup did not connect: %+v", user)
	}

	book, err := a.CreateBook(ctx, user, domain.Book{Title: "Dune", TotalCopies: 1, AvailableCopies: 1})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	member, err := a.CreateMember(ctx, user, domain.Member{Name: "Alice", Status: domain.MemberActive})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}

	loan, err := a.Lend(ctx, user, book.ID, member.ID)
	if err != nil {
		t.Fatalf("lend: %v", err)
	}
	got, ok, err := a.GetBook(ctx, user, book.ID)
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if got.AvailableCopies != 0 {
		t.Fatalf("availableCopies = %d after lend", got.AvailableCopies)
	}

	if _, err := a.Return(ctx, user, loan.ID); err != nil {
		t.Fatalf("return: %v", err)
	}
	got, _, _ = a.GetBook(ctx, user, book.ID)
	if got.AvailableCopies != 1 {
		t.Fatalf("availableCopies = %d after return", got.AvailableCopies)
	}

	title := "Dune Messiah"
	updated, err := a.UpdateBook(ctx, user, book.ID, domain.BookPatch{Title: &title})
	if err != nil || updated.Title != title {
		t.Fatalf("update book: %+v err=%v", updated, err)
	}
	if err := a.DeleteBook(ctx, user, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
}

func TestSetupConnectValidatesSpreadsheet(t *testing.T) {
	a, backend, _ := newTestApp(t)
	ctx := context.Background()
	user, err := a.EnsureUser(claimsFor("u1", "alice@example.com"))
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if _, err := a.SetupConnect(ctx, user, "does-not-exist"); !errors.Is(err, ErrInvalidSpreadsheet) {
		t.Fatalf("expected ErrInvalidSpreadsheet, got %v", err)
	}

	sheetID, err := sheetdb.CreateLibrary(ctx, backend, "Existing Library")
	if err != nil {
		t.Fatalf("create library: %v", err)
	}
	connected, err := a.SetupConnect(ctx, user, sheetID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if connected.SheetID != sheetID {
		t.Fatalf("sheet id not saved: %+v", connected)
	}
	if _, err := a.ListBooks(ctx, connected); err != nil {
		t.Fatalf("list books after connect: %v", err)
	}
}

func TestAsk(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	user := connectedUser(t, a)

	answer, err := a.Ask(ctx, user, "suggest a sci-fi novel")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "try Dune" {
		t.Fatalf("answer = %q", answer)
	}
	gen := a.generator.(*fakeGenerator)
	if !strings.Contains(gen.lastSystem, "librarian") {
		t.Fatalf("system prompt missing: %q", gen.lastSystem)
	}

	if _, err := a.Ask(ctx, user, "  "); err == nil {
		t.Fatalf("expected empty question to fail")
	}
}

func TestAskUnconfigured(t *testing.T) {
	a, err := New(Config{
		Users:   userstore.NewMemoryStore(),
		Backend: sheetdb.NewMemoryBackend(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user, _ := a.EnsureUser(claimsFor("u1", "alice@example.com"))
	if _, err := a.Ask(context.Background(), user, "hello"); !errors.Is(err, ErrAssistantUnavailable) {
		t.Fatalf("expected ErrAssistantUnavailable, got %v", err)
	}
}

func TestBackupPlanGate(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	user := connectedUser(t, a)

	if _, err := a.Backup(ctx, user); !errors.Is(err, ErrPlanRequired) {
		t.Fatalf("free plan should be rejected, got %v", err)
	}

	user.Plan = domain.PlanPro
	url, err := a.Backup(ctx, user)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if url == "" {
		t.Fatalf("backup returned empty url")
	}
}

func TestAuditTrail(t *testing.T) {
	a, _, recorder := newTestApp(t)
	ctx := context.Background()
	user := connectedUser(t, a)

	if _, err := a.CreateBook(ctx, user, domain.Book{Title: "Dune", TotalCopies: 1, AvailableCopies: 1}); err != nil {
		t.Fatalf("create book: %v", err)
	}

	entries := recorder.Entries()
	var sawCreate bool
	for _, e := range entries {
		if e.Type == audit.TypeInfo && strings.Contains(e.Message, "book created") {
			sawCreate = true
			if e.UserEmail != "alice@example.com" {
				t.Fatalf("audit entry missing user: %+v", e)
			}
		}
	}
	if !sawCreate {
		t.Fatalf("no audit entry for book creation: %+v", entries)
	}
}
