package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gundeshapur/internal/ratelimit"
	"gundeshapur/internal/usertoken"
	"gundeshapur/pkg/ai"
	"gundeshapur/pkg/audit"
	"gundeshapur/pkg/backup"
	"gundeshapur/pkg/domain"
	"gundeshapur/pkg/sheetdb"
	"gundeshapur/pkg/userstore"
)

const librarianSystemPrompt = "You are an expert librarian's assistant. " +
	"You help library managers with book suggestions, summaries, and other " +
	"library-related tasks. Your responses should be helpful, concise, and professional."

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Users       userstore.Store
	Backend     sheetdb.Backend

	AIProvider      string
	GeminiAPIKey    string
	GenerationModel string
	OllamaBaseURL   string
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	Generator       ai.TextGenerator

	Objects          backup.ObjectStore
	Audit            audit.Recorder
	AssistantLimiter *ratelimit.FixedWindowLimiter
	Logger           *slog.Logger
}

// App wires account storage, per-user library stores and the side
// services together.
type App struct {
	users     userstore.Store
	backend   sheetdb.Backend
	generator ai.TextGenerator
	exporter  *backup.Exporter
	audit     audit.Recorder
	limiter   *ratelimit.FixedWindowLimiter
	logger    *slog.Logger

	mu     sync.Mutex
	stores map[string]*sheetdb.Store // keyed by spreadsheet ID
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("sheet backend required")
	}
	users := cfg.Users
	if users == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required (no in-memory store allowed)")
		}
		var err error
		users, err = userstore.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	generator := cfg.Generator
	if generator == nil {
		var err error
		generator, err = newGenerator(cfg)
		if err != nil {
			return nil, err
		}
	}

	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.NewMemoryRecorder()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		users:     users,
		backend:   cfg.Backend,
		generator: generator,
		audit:     recorder,
		limiter:   cfg.AssistantLimiter,
		logger:    logger,
		stores:    make(map[string]*sheetdb.Store),
	}
	if cfg.Objects != nil {
		a.exporter = backup.NewExporter(cfg.Objects)
	}
	return a, nil
}

// newGenerator selects the assistant provider. A missing key disables
// the assistant instead of failing startup.
func newGenerator(cfg Config) (ai.TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if provider == "" {
		provider = "gemini"
	}
	switch provider {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil
		}
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.GenerationModel), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return nil, fmt.Errorf("openai provider requires a base URL")
		}
		return ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.GenerationModel), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", provider)
	}
}

// EnsureUser resolves the account for verified token claims, creating it
// on first sight. The first account becomes admin.
func (a *App) EnsureUser(claims usertoken.Claims) (domain.User, error) {
	user, ok, err := a.users.GetUserByID(claims.Subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	now := time.Now().UTC()
	if !ok {
		role := domain.RoleUser
		count, err := a.users.UserCount()
		if err != nil {
			return domain.User{}, fmt.Errorf("count users: %w", err)
		}
		if count == 0 {
			role = domain.RoleAdmin
		}
		user = domain.User{
			ID:          claims.Subject,
			Email:       strings.TrimSpace(strings.ToLower(claims.Email)),
			DisplayName: strings.TrimSpace(claims.Name),
			Role:        role,
			Plan:        domain.PlanFree,
			CreatedAt:   now,
		}
		if err := a.users.SaveUser(user); err != nil {
			return domain.User{}, fmt.Errorf("save user: %w", err)
		}
		a.record(context.Background(), user, audit.TypeInfo, "account created")
	}
	if err := a.users.TouchLastLogin(user.ID, now); err != nil {
		a.logger.Warn("touch last login failed", "user", user.ID, "error", err)
	}
	user.LastLogin = now
	return user, nil
}

// ListUsers returns all accounts, for admin views.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.users.ListUsers()
}

// storeFor returns the library store bound to the user's spreadsheet.
func (a *App) storeFor(user domain.User) (*sheetdb.Store, error) {
	sheetID := strings.TrimSpace(user.SheetID)
	if sheetID == "" {
		return nil, ErrLibraryNotConnected
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stores[sheetID]; ok {
		return s, nil
	}
	s := sheetdb.New(a.backend, sheetID, sheetdb.WithLogger(a.logger))
	a.stores[sheetID] = s
	return s, nil
}

func (a *App) record(ctx context.Context, user domain.User, entryType audit.EntryType, message string) {
	entry := audit.NewEntry(entryType, message, user.Email)
	if err := a.audit.Record(ctx, entry); err != nil {
		a.logger.Warn("audit record failed", "message", message, "error", err)
	}
}

// SetupCreate provisions a fresh library spreadsheet for the user.
func (a *App) SetupCreate(ctx context.Context, user domain.User, libraryName string) (domain.User, error) {
	libraryName = strings.TrimSpace(libraryName)
	if libraryName == "" {
		libraryName = "My Library"
	}
	sheetID, err := sheetdb.CreateLibrary(ctx, a.backend, libraryName)
	if err != nil {
		return domain.User{}, fmt.Errorf("create library: %w", err)
	}
	user.SheetID = sheetID
	user.LibraryName = libraryName
	if err := a.users.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("library created: %s", libraryName))
	return user, nil
}

// SetupConnect points the user at an existing spreadsheet after checking
// that all three tabs have usable header rows.
func (a *App) SetupConnect(ctx context.Context, user domain.User, sheetID string) (domain.User, error) {
	sheetID = strings.TrimSpace(sheetID)
	if sheetID == "" {
		return domain.User{}, fmt.Errorf("%w: empty spreadsheet id", ErrInvalidSpreadsheet)
	}
	probe := sheetdb.New(a.backend, sheetID, sheetdb.WithLogger(a.logger))
	if _, err := probe.ListBooks(ctx); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}
	if _, err := probe.ListMembers(ctx); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}
	if _, err := probe.ListLoans(ctx); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}

	if err := a.users.SetSheetID(user.ID, sheetID); err != nil {
		return domain.User{}, fmt.Errorf("save sheet id: %w", err)
	}
	user.SheetID = sheetID
	a.mu.Lock()
	a.stores[sheetID] = probe
	a.mu.Unlock()
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("library connected: %s", sheetID))
	return user, nil
}

// Books.

func (a *App) ListBooks(ctx context.Context, user domain.User) ([]domain.Book, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return nil, err
	}
	return s.ListBooks(ctx)
}

func (a *App) GetBook(ctx context.Context, user domain.User, id string) (domain.Book, bool, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Book{}, false, err
	}
	return s.GetBook(ctx, id)
}

func (a *App) CreateBook(ctx context.Context, user domain.User, book domain.Book) (domain.Book, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Book{}, err
	}
	created, err := s.CreateBook(ctx, book)
	if err != nil {
		return domain.Book{}, err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("book created: %s", created.Title))
	return created, nil
}

func (a *App) UpdateBook(ctx context.Context, user domain.User, id string, patch domain.BookPatch) (domain.Book, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Book{}, err
	}
	updated, err := s.UpdateBook(ctx, id, patch)
	if err != nil {
		return domain.Book{}, err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("book updated: %s", id))
	return updated, nil
}

func (a *App) DeleteBook(ctx context.Context, user domain.User, id string) error {
	s, err := a.storeFor(user)
	if err != nil {
		return err
	}
	if err := s.DeleteBook(ctx, id); err != nil {
		return err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("book deleted: %s", id))
	return nil
}

// Members.

func (a *App) ListMembers(ctx context.Context, user domain.User) ([]domain.Member, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return nil, err
	}
	return s.ListMembers(ctx)
}

func (a *App) GetMember(ctx context.Context, user domain.User, id string) (domain.Member, bool, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Member{}, false, err
	}
	return s.GetMember(ctx, id)
}

func (a *App) CreateMember(ctx context.Context, user domain.User, member domain.Member) (domain.Member, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Member{}, err
	}
	created, err := s.CreateMember(ctx, member)
	if err != nil {
		return domain.Member{}, err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("member created: %s", created.Name))
	return created, nil
}

func (a *App) UpdateMember(ctx context.Context, user domain.User, id string, patch domain.MemberPatch) (domain.Member, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Member{}, err
	}
	updated, err := s.UpdateMember(ctx, id, patch)
	if err != nil {
		return domain.Member{}, err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("member updated: %s", id))
	return updated, nil
}

func (a *App) DeleteMember(ctx context.Context, user domain.User, id string) error {
	s, err := a.storeFor(user)
	if err != nil {
		return err
	}
	if err := s.DeleteMember(ctx, id); err != nil {
		return err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("member deleted: %s", id))
	return nil
}

// Loans.

func (a *App) ListLoans(ctx context.Context, user domain.User) ([]domain.Loan, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return nil, err
	}
	loans, err := s.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range loans {
		loans[i].Status = loans[i].EffectiveStatus(now)
	}
	return loans, nil
}

func (a *App) GetLoan(ctx context.Context, user domain.User, id string) (domain.Loan, bool, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Loan{}, false, err
	}
	loan, ok, err := s.GetLoan(ctx, id)
	if err != nil || !ok {
		return loan, ok, err
	}
	loan.Status = loan.EffectiveStatus(time.Now().UTC())
	return loan, true, nil
}

// Lend creates a loan, decrementing the book's available copies.
func (a *App) Lend(ctx context.Context, user domain.User, bookID, memberID string) (domain.Loan, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Loan{}, err
	}
	loan, err := s.CreateLoan(ctx, bookID, memberID)
	if err != nil {
		a.record(ctx, user, audit.TypeError, fmt.Sprintf("lend failed: %v", err))
		return domain.Loan{}, err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("book lent: %s to %s", bookID, memberID))
	return loan, nil
}

// Return marks a loan returned and restores the book's available copies.
func (a *App) Return(ctx context.Context, user domain.User, loanID string) (domain.Loan, error) {
	s, err := a.storeFor(user)
	if err != nil {
		return domain.Loan{}, err
	}
	loan, err := s.ReturnLoan(ctx, loanID)
	if err != nil {
		return domain.Loan{}, err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("book returned: loan %s", loanID))
	return loan, nil
}

func (a *App) DeleteLoan(ctx context.Context, user domain.User, id string) error {
	s, err := a.storeFor(user)
	if err != nil {
		return err
	}
	if err := s.DeleteLoan(ctx, id); err != nil {
		return err
	}
	a.record(ctx, user, audit.TypeInfo, fmt.Sprintf("loan deleted: %s", id))
	return nil
}

// Ask sends a question to the librarian assistant.
func (a *App) Ask(ctx context.Context, user domain.User, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question required")
	}
	if a.generator == nil {
		return "", ErrAssistantUnavailable
	}
	if a.limiter != nil && !a.limiter.Allow(user.ID) {
		return "", ErrRateLimited
	}
	answer, err := a.generator.GenerateText(ctx, librarianSystemPrompt, question)
	if err != nil {
		a.record(ctx, user, audit.TypeError, fmt.Sprintf("assistant request failed: %v", err))
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}

// Backup exports the user's library to object storage and returns a
// download URL. Available on paid plans only.
func (a *App) Backup(ctx context.Context, user domain.User) (string, error) {
	if user.Plan == domain.PlanFree {
		return "", ErrPlanRequired
	}
	if a.exporter == nil {
		return "", ErrBackupUnavailable
	}
	s, err := a.storeFor(user)
	if err != nil {
		return "", err
	}
	url, err := a.exporter.Run(ctx, user.SheetID, s)
	if err != nil {
		a.record(ctx, user, audit.TypeError, fmt.Sprintf("backup failed: %v", err))
		return "", err
	}
	a.record(ctx, user, audit.TypeInfo, "library backup created")
	return url, nil
}

// AuditLog exposes recent audit entries when the recorder keeps them
// in-process.
func (a *App) AuditLog() ([]audit.Entry, bool) {
	rec, ok := a.audit.(*audit.MemoryRecorder)
	if !ok {
		return nil, false
	}
	return rec.Entries(), true
}
