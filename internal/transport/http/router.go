package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quizdeck/quizdeck/internal/handlers"
	authmw "github.com/quizdeck/quizdeck/internal/middleware/auth"
)

type Deps struct {
	AuthHandler   *handlers.AuthHandler
	QuizHandler   *handlers.QuizHandler
	SearchHandler *handlers.SearchHandler
	Gate          *authmw.Gate
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	v1 := e.Group("/api/v1")

	users := v1.Group("/users")
	users.POST("/register", d.AuthHandler.Register)
	users.POST("/login", d.AuthHandler.Login)
	users.POST("/refresh-token", d.AuthHandler.Refresh)

	account := users.Group("", d.Gate.RequireAuth)
	account.POST("/logout", d.AuthHandler.LogOut)
	account.PATCH("/update-account", d.AuthHandler.UpdateAccount)
	account.GET("/current-user", d.AuthHandler.CurrentUser)
	account.POST("/change-password", d.AuthHandler.ChangePassword)
	account.GET("/quiz-history", d.AuthHandler.QuizHistory)

	quizzes := v1.Group("/quizzes", d.Gate.RequireAuth)
	quizzes.GET("/user/attempts", d.QuizHandler.GetAttempts)
	quizzes.GET("/search", d.SearchHandler.Search)
	quizzes.POST("/create", d.QuizHandler.CreateQuiz)
	quizzes.GET("/my-quizzes", d.QuizHandler.MyQuizzes)
	quizzes.GET("/:quizId", d.QuizHandler.GetQuiz)
	quizzes.PATCH("/:quizId/update", d.QuizHandler.UpdateQuiz)
	quizzes.DELETE("/:quizId/delete", d.QuizHandler.DeleteQuiz)
	quizzes.GET("/:quizId/leaderboard", d.QuizHandler.Leaderboard)
	quizzes.POST("/:quizId/attempt", d.QuizHandler.AttemptQuiz)
	quizzes.GET("/attempt/:attemptId/results", d.QuizHandler.QuizResults)
}
