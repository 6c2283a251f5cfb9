package models

import "time"

// ── Delivery Records ─────────────────────────────────────
//
// Written by the chat-bot collaborator; read by the pool health check.

type SentQuestion struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	QuestionID int64     `json:"question_id"`
	Scheduled  bool      `json:"scheduled"`
	SentAt     time.Time `json:"sent_at"`
}

type UserAnswer struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	QuestionID int64     `json:"question_id"`
	Answer     string    `json:"answer"`
	IsCorrect  bool      `json:"is_correct"`
	AnsweredAt time.Time `json:"answered_at"`
}

// ── Request Types ────────────────────────────────────────

type RecordDeliveryRequest struct {
	UserID     int64 `json:"user_id"`
	QuestionID int64 `json:"question_id"`
	Scheduled  bool  `json:"scheduled"`
}

type RecordAnswerRequest struct {
	UserID     int64  `json:"user_id"`
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

type RecordAnswerResponse struct {
	ID            int64  `json:"id"`
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}
