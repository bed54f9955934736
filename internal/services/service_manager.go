package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/ai"
	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// ServiceManager owns every grading service instance and their shared
// lifecycle.
type ServiceManager interface {
	Initialize(ctx context.Context) error

	Resolver() ScoreResolver
	Regrades() RegradeService
	Rescores() RescoreService
	TermGrades() TermGradeService
	Leaderboards() LeaderboardService
	AIGrading() AIGradingService
	Appeals() AppealService
	Attempts() AttemptService

	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceManagerConfig holds configuration for the service manager.
type ServiceManagerConfig struct {
	// TermGradeStrategy selects which attempt represents a student on an
	// assessment; empty means latest_released.
	TermGradeStrategy AttemptStrategy

	DefaultTimeout time.Duration
}

func DefaultServiceManagerConfig() ServiceManagerConfig {
	return ServiceManagerConfig{
		TermGradeStrategy: StrategyLatestReleased,
		DefaultTimeout:    30 * time.Second,
	}
}

type serviceManager struct {
	repo       repositories.Repository
	cache      *cache.CacheManager
	validator  *validator.BusinessValidator
	dispatcher events.Dispatcher
	registry   *events.Registry
	completer  ai.Completer
	logger     *slog.Logger
	config     ServiceManagerConfig

	resolver     ScoreResolver
	regrades     RegradeService
	rescores     RescoreService
	termGrades   TermGradeService
	leaderboards LeaderboardService
	aiGrading    AIGradingService
	appeals      AppealService
	attempts     AttemptService

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

func NewServiceManager(
	repo repositories.Repository,
	cacheManager *cache.CacheManager,
	v *validator.BusinessValidator,
	dispatcher events.Dispatcher,
	registry *events.Registry,
	completer ai.Completer,
	logger *slog.Logger,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		repo:       repo,
		cache:      cacheManager,
		validator:  v,
		dispatcher: dispatcher,
		registry:   registry,
		completer:  completer,
		logger:     logger,
		config:     config,
	}
}

// Initialize builds every service and registers the background job handlers.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.resolver = NewScoreResolver(sm.repo, sm.logger)
	sm.regrades = NewRegradeService(sm.repo, sm.validator, sm.dispatcher, sm.logger)
	sm.rescores = NewRescoreService(sm.repo, sm.dispatcher, sm.logger)
	sm.termGrades = NewTermGradeService(sm.repo, sm.cache, sm.config.TermGradeStrategy, sm.logger)
	sm.leaderboards = NewLeaderboardService(sm.repo, sm.cache, sm.logger)
	sm.aiGrading = NewAIGradingService(sm.repo, sm.completer, sm.logger)
	sm.appeals = NewAppealService(sm.repo, sm.validator, sm.logger)
	sm.attempts = NewAttemptService(sm.repo, sm.resolver, sm.validator, sm.logger)

	RegisterJobHandlers(sm.registry, sm.rescores, sm.termGrades, sm.leaderboards)

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")
	return nil
}

func (sm *serviceManager) get(name string, ready func() bool) {
	if !sm.initialized {
		panic("service manager not initialized")
	}
	if !ready() {
		panic(name + " service not initialized")
	}
}

func (sm *serviceManager) Resolver() ScoreResolver {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("score resolver", func() bool { return sm.resolver != nil })
	return sm.resolver
}

func (sm *serviceManager) Regrades() RegradeService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("regrade", func() bool { return sm.regrades != nil })
	return sm.regrades
}

func (sm *serviceManager) Rescores() RescoreService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("rescore", func() bool { return sm.rescores != nil })
	return sm.rescores
}

func (sm *serviceManager) TermGrades() TermGradeService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("term grade", func() bool { return sm.termGrades != nil })
	return sm.termGrades
}

func (sm *serviceManager) Leaderboards() LeaderboardService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("leaderboard", func() bool { return sm.leaderboards != nil })
	return sm.leaderboards
}

func (sm *serviceManager) AIGrading() AIGradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("ai grading", func() bool { return sm.aiGrading != nil })
	return sm.aiGrading
}

func (sm *serviceManager) Appeals() AppealService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("appeal", func() bool { return sm.appeals != nil })
	return sm.appeals
}

func (sm *serviceManager) Attempts() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.get("attempt", func() bool { return sm.attempts != nil })
	return sm.attempts
}

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if err := sm.repo.Close(); err != nil {
		sm.logger.Error("Failed to close repository", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")
	return nil
}

// WithTimeout creates a context with the default timeout.
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}
