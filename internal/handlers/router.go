package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/config"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/services"
)

type HandlerManager struct {
	gradingHandler     *GradingHandler
	gradebookHandler   *GradebookHandler
	leaderboardHandler *LeaderboardHandler
	appealHandler      *AppealHandler
	attemptHandler     *AttemptHandler
	userHandler        *UserHandler
	authMiddleware     *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	logger *slog.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		gradingHandler: NewGradingHandler(
			serviceManager.Regrades(),
			serviceManager.Resolver(),
			serviceManager.AIGrading(),
			serviceManager.Attempts(),
			logger,
		),
		gradebookHandler:   NewGradebookHandler(serviceManager.TermGrades(), logger),
		leaderboardHandler: NewLeaderboardHandler(serviceManager.Leaderboards(), logger),
		appealHandler:      NewAppealHandler(serviceManager.Appeals(), logger),
		attemptHandler:     NewAttemptHandler(serviceManager.Attempts(), logger),
		userHandler:        NewUserHandler(userRepo, logger),
		authMiddleware:     authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Public routes: guest entry through a link token needs no account.
	public := router.Group("/api/v1/public")
	{
		public.POST("/attempts/start", hm.attemptHandler.StartGuestAttempt)
		public.POST("/attempts/items/:item_id/response", hm.attemptHandler.SubmitResponse)
		public.POST("/attempts/:id/submit", hm.attemptHandler.SubmitAttempt)
	}

	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Grading routes - Teachers and Admins only
		grading := v1.Group("/grading")
		grading.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			grading.POST("/decisions", hm.gradingHandler.ApplyDecision)
			grading.GET("/decisions/preview", hm.gradingHandler.PreviewDecision)
			grading.GET("/items/:id/score", hm.gradingHandler.GetItemScore)
			grading.GET("/items/:id/matching-credit", hm.gradingHandler.PreviewMatchingCredit)

			grading.POST("/items/:id/ai-draft", hm.gradingHandler.GenerateAIDraft)
			grading.POST("/ai-drafts/:id/review", hm.gradingHandler.ReviewAIDraft)
			grading.POST("/ai-drafts/:id/apply", hm.gradingHandler.ApplyAIDraft)
		}

		// Gradebook routes - Teachers and Admins only
		gradebook := v1.Group("/gradebook")
		gradebook.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			gradebook.GET("/terms/:term_id/students/:student_id", hm.gradebookHandler.GetTermGrade)
			gradebook.POST("/terms/:term_id/students/:student_id/recompute", hm.gradebookHandler.RecomputeTermGrade)
			gradebook.PUT("/terms/:term_id/students/:student_id/override", hm.gradebookHandler.OverrideTermGrade)
			gradebook.GET("/terms/:term_id/export", hm.gradebookHandler.ExportTerm)
		}

		// Leaderboard routes - all authenticated users read, graders rebuild
		leaderboards := v1.Group("/leaderboards")
		{
			leaderboards.GET("", hm.leaderboardHandler.GetLeaderboard)
			leaderboards.POST("/recompute",
				hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin),
				hm.leaderboardHandler.RecomputeLeaderboard)
		}

		// Appeal routes
		appeals := v1.Group("/appeals")
		{
			appeals.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.appealHandler.CreateAppeal)
			appeals.GET("/me", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.appealHandler.ListMyAppeals)
			appeals.POST("/:id/review", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.appealHandler.StartReview)
			appeals.POST("/:id/reject", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.appealHandler.RejectAppeal)
		}

		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)
			attempts.POST("/items/:item_id/response", hm.attemptHandler.SubmitResponse)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
			attempts.POST("/links",
				hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin),
				hm.attemptHandler.CreatePublicLink)
		}

		// User routes
		users := v1.Group("/users")
		{
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "grading-service",
		})
	})
}
