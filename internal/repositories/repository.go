package repositories

import "context"

// Repository aggregates the per-domain repositories. Implementations bind
// all sub-repositories to the same database handle; WithTransaction yields a
// Repository bound to one transaction so multi-table writes stay atomic.
type Repository interface {
	Question() QuestionRepository
	Attempt() AttemptRepository
	Grading() GradingRepository
	Gradebook() GradebookRepository
	Audit() AuditRepository

	// User domain (read-only, backed by casdoor)
	User() UserRepository

	WithTransaction(ctx context.Context, fn func(tx Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryManager owns repository lifecycle: connection checks on startup
// and graceful shutdown.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
