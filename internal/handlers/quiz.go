package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/quizdeck/quizdeck/internal/logging"
	authmw "github.com/quizdeck/quizdeck/internal/middleware/auth"
	"github.com/quizdeck/quizdeck/internal/models"
	"github.com/quizdeck/quizdeck/internal/mykafka"
	"github.com/quizdeck/quizdeck/internal/service/search"
)

type QuizHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
	ES       *elasticsearch.Client
	Index    string
}

func (h *QuizHandler) publish(c echo.Context, topic string, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, fmt.Sprint(event["userID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish failed", "error", err)
	}
}

func (h *QuizHandler) indexQuiz(c echo.Context, quiz *models.Quiz) {
	if h.ES == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := search.Index(ctx, h.ES, h.Index, search.DocFromQuiz(quiz)); err != nil {
		logging.FromContext(c.Request().Context()).Error("es index failed", "quizID", quiz.ID, "error", err)
	}
}

func (h *QuizHandler) deindexQuiz(c echo.Context, id uint) {
	if h.ES == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := search.Delete(ctx, h.ES, h.Index, id); err != nil {
		logging.FromContext(c.Request().Context()).Error("es delete failed", "quizID", id, "error", err)
	}
}

type questionInput struct {
	QuestionText       string   `json:"questionText"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
}

func (h *QuizHandler) CreateQuiz(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var req struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		TimeLimit   uint            `json:"timeLimit"`
		Questions   []questionInput `json:"questions"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if strings.TrimSpace(req.Title) == "" || len(req.Questions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "title and at least one question are required")
	}

	quiz := models.Quiz{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		TimeLimit:   req.TimeLimit,
		CreatedBy:   user.ID,
	}
	for _, q := range req.Questions {
		quiz.Questions = append(quiz.Questions, models.Question{
			QuestionText:       q.QuestionText,
			Options:            q.Options,
			CorrectAnswerIndex: q.CorrectAnswerIndex,
			Explanation:        q.Explanation,
		})
	}

	if err := h.DB.WithContext(ctx).Create(&quiz).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	shareableLink := fmt.Sprintf("%s://%s/api/v1/quizzes/%d/attempt", c.Scheme(), c.Request().Host, quiz.ID)

	h.publish(c, "quiz_events", map[string]any{
		"type":   "quiz_created",
		"quizID": quiz.ID,
		"userID": user.ID,
		"title":  quiz.Title,
	})
	h.indexQuiz(c, &quiz)

	return c.JSON(http.StatusCreated, echo.Map{
		"quiz":          quiz,
		"shareableLink": shareableLink,
	})
}

func (h *QuizHandler) MyQuizzes(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var quizzes []models.Quiz
	err := h.DB.WithContext(ctx).
		Select("id", "title", "description", "created_by", "created_at").
		Where("created_by = ?", user.ID).
		Order("created_at DESC").
		Find(&quizzes).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if len(quizzes) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no quizzes found")
	}

	return c.JSON(http.StatusOK, quizzes)
}

func (h *QuizHandler) GetQuiz(c echo.Context) error {
	ctx := c.Request().Context()

	quizID, err := strconv.Atoi(c.Param("quizId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quiz id")
	}

	var quiz models.Quiz
	err = h.DB.WithContext(ctx).Preload("Questions").Where("id = ?", quizID).First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	var creator models.User
	if err := h.DB.WithContext(ctx).Select("username").Where("id = ?", quiz.CreatedBy).First(&creator).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"quiz":      quiz,
		"createdBy": creator.Username,
	})
}

func (h *QuizHandler) UpdateQuiz(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	quizID, err := strconv.Atoi(c.Param("quizId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quiz id")
	}

	var req struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		TimeLimit   uint            `json:"timeLimit"`
		Questions   []questionInput `json:"questions"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	var quiz models.Quiz
	err = h.DB.WithContext(ctx).Where("id = ? AND created_by = ?", quizID, user.ID).First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "quiz not found or unauthorized")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	if strings.TrimSpace(req.Title) != "" {
		quiz.Title = strings.TrimSpace(req.Title)
	}
	if req.Description != "" {
		quiz.Description = req.Description
	}
	if req.TimeLimit != 0 {
		quiz.TimeLimit = req.TimeLimit
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&quiz).Error; err != nil {
			return err
		}
		if len(req.Questions) == 0 {
			return nil
		}
		// Wholesale question replacement.
		if err := tx.Where("quiz_id = ?", quiz.ID).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		questions := make([]models.Question, 0, len(req.Questions))
		for _, q := range req.Questions {
			questions = append(questions, models.Question{
				QuizID:             quiz.ID,
				QuestionText:       q.QuestionText,
				Options:            q.Options,
				CorrectAnswerIndex: q.CorrectAnswerIndex,
				Explanation:        q.Explanation,
			})
		}
		return tx.Create(&questions).Error
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	if err := h.DB.WithContext(ctx).Preload("Questions").Where("id = ?", quiz.ID).First(&quiz).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	h.publish(c, "quiz_events", map[string]any{
		"type":   "quiz_updated",
		"quizID": quiz.ID,
		"userID": user.ID,
	})
	h.indexQuiz(c, &quiz)

	return c.JSON(http.StatusOK, quiz)
}

func (h *QuizHandler) DeleteQuiz(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	quizID, err := strconv.Atoi(c.Param("quizId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quiz id")
	}

	var deleted bool
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND created_by = ?", quizID, user.ID).Delete(&models.Quiz{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("quiz_id = ?", quizID).Delete(&models.Question{}).Error
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, "quiz not found or unauthorized")
	}

	h.publish(c, "quiz_events", map[string]any{
		"type":   "quiz_deleted",
		"quizID": quizID,
		"userID": user.ID,
	})
	h.deindexQuiz(c, uint(quizID))

	return c.JSON(http.StatusOK, echo.Map{"message": "quiz deleted successfully"})
}

type leaderboardEntry struct {
	Username    string    `json:"username"`
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}

func (h *QuizHandler) Leaderboard(c echo.Context) error {
	ctx := c.Request().Context()

	quizID, err := strconv.Atoi(c.Param("quizId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quiz id")
	}

	var quiz models.Quiz
	if err := h.DB.WithContext(ctx).Select("id").Where("id = ?", quizID).First(&quiz).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	var rows []leaderboardEntry
	err = h.DB.WithContext(ctx).
		Table("attempts").
		Select("users.username, attempts.score, attempts.completed_at").
		Joins("JOIN users ON users.id = attempts.user_id").
		Where("attempts.quiz_id = ?", quizID).
		Scan(&rows).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if len(rows) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no attempts found for this quiz")
	}

	// Best score per user, ties broken by latest completion.
	best := map[string]leaderboardEntry{}
	for _, r := range rows {
		cur, ok := best[r.Username]
		if !ok || r.Score > cur.Score || (r.Score == cur.Score && r.CompletedAt.After(cur.CompletedAt)) {
			best[r.Username] = r
		}
	}
	board := make([]leaderboardEntry, 0, len(best))
	for _, e := range best {
		board = append(board, e)
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].CompletedAt.After(board[j].CompletedAt)
	})

	return c.JSON(http.StatusOK, board)
}

func (h *QuizHandler) AttemptQuiz(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	quizID, err := strconv.Atoi(c.Param("quizId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quiz id")
	}

	var req struct {
		Answers []struct {
			QuestionID          uint `json:"questionId"`
			SelectedOptionIndex int  `json:"selectedOptionIndex"`
		} `json:"answers"`
		TimeTaken uint `json:"timeTaken"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	var quiz models.Quiz
	err = h.DB.WithContext(ctx).Preload("Questions").Where("id = ?", quizID).First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	questions := make(map[uint]*models.Question, len(quiz.Questions))
	for i := range quiz.Questions {
		questions[quiz.Questions[i].ID] = &quiz.Questions[i]
	}

	// Linear scoring pass over the submitted answers.
	score := 0
	answers := make([]models.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid question id provided")
		}
		correct := q.CorrectAnswerIndex == a.SelectedOptionIndex
		if correct {
			score++
		}
		answers = append(answers, models.Answer{
			QuestionID:          a.QuestionID,
			SelectedOptionIndex: a.SelectedOptionIndex,
			IsCorrect:           correct,
		})
	}

	attempt := models.Attempt{
		QuizID:      quiz.ID,
		UserID:      user.ID,
		Score:       score,
		TimeTaken:   req.TimeTaken,
		Answers:     answers,
		CompletedAt: time.Now().UTC(),
	}
	if err := h.DB.WithContext(ctx).Create(&attempt).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	h.publish(c, "attempt_events", map[string]any{
		"type":      "attempt_submitted",
		"attemptID": attempt.ID,
		"quizID":    quiz.ID,
		"userID":    user.ID,
		"score":     score,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"attemptId":      attempt.ID,
		"score":          score,
		"totalQuestions": len(quiz.Questions),
		"correctAnswers": score,
	})
}

func (h *QuizHandler) GetAttempts(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var rows []attemptHistoryRow
	err := h.DB.WithContext(ctx).
		Table("attempts").
		Select("attempts.id, attempts.quiz_id, quizzes.title, quizzes.description, attempts.score, attempts.completed_at").
		Joins("JOIN quizzes ON quizzes.id = attempts.quiz_id").
		Where("attempts.user_id = ?", user.ID).
		Order("attempts.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, rows)
}

type questionResult struct {
	QuestionID         uint     `json:"questionId"`
	QuestionText       string   `json:"questionText"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation,omitempty"`
	UserSelectedOption *int     `json:"userSelectedOption"`
	IsCorrect          bool     `json:"isCorrect"`
}

func (h *QuizHandler) QuizResults(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	attemptID, err := strconv.Atoi(c.Param("attemptId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid attempt id")
	}

	var attempt models.Attempt
	err = h.DB.WithContext(ctx).Preload("Answers").
		Where("id = ? AND user_id = ?", attemptID, user.ID).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "attempt not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	var quiz models.Quiz
	err = h.DB.WithContext(ctx).Preload("Questions").Where("id = ?", attempt.QuizID).First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	byQuestion := make(map[uint]*models.Answer, len(attempt.Answers))
	for i := range attempt.Answers {
		byQuestion[attempt.Answers[i].QuestionID] = &attempt.Answers[i]
	}

	results := make([]questionResult, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		r := questionResult{
			QuestionID:         q.ID,
			QuestionText:       q.QuestionText,
			Options:            q.Options,
			CorrectAnswerIndex: q.CorrectAnswerIndex,
			Explanation:        q.Explanation,
		}
		if a, ok := byQuestion[q.ID]; ok {
			selected := a.SelectedOptionIndex
			r.UserSelectedOption = &selected
			r.IsCorrect = a.IsCorrect
		}
		results = append(results, r)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"quizTitle":      quiz.Title,
		"score":          attempt.Score,
		"totalQuestions": len(quiz.Questions),
		"results":        results,
		"attemptedAt":    attempt.CreatedAt,
	})
}
