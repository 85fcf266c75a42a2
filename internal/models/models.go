package models

import (
	"time"
)

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FullName     string    `gorm:"not null"                 json:"fullName"`
	Email        string    `gorm:"uniqueIndex;not null"     json:"email"`
	Username     string    `gorm:"uniqueIndex;not null"     json:"username"`
	PasswordHash string    `gorm:"not null"                 json:"-"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Quiz struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string     `gorm:"not null"                 json:"title"`
	Description string     `json:"description"`
	TimeLimit   uint       `json:"timeLimit,omitempty"`
	CreatedBy   uint       `gorm:"index;not null"           json:"createdBy"`
	Questions   []Question `gorm:"constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Question struct {
	ID                 uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	QuizID             uint     `gorm:"index;not null"           json:"quizId"`
	QuestionText       string   `gorm:"not null"                 json:"questionText"`
	Options            []string `gorm:"serializer:json;not null" json:"options"`
	CorrectAnswerIndex int      `gorm:"not null"                 json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation,omitempty"`
}

type Attempt struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	QuizID      uint      `gorm:"index;not null"           json:"quizId"`
	UserID      uint      `gorm:"index;not null"           json:"userId"`
	Score       int       `gorm:"not null"                 json:"score"`
	TimeTaken   uint      `json:"timeTaken,omitempty"`
	Answers     []Answer  `gorm:"constraint:OnDelete:CASCADE" json:"answers,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Answer struct {
	ID                  uint `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID           uint `gorm:"index;not null"           json:"attemptId"`
	QuestionID          uint `gorm:"not null"                 json:"questionId"`
	SelectedOptionIndex int  `gorm:"not null"                 json:"selectedOptionIndex"`
	IsCorrect           bool `gorm:"not null"                 json:"isCorrect"`
}
