package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidRequest marks caller mistakes the handlers render as 400.
var ErrInvalidRequest = errors.New("invalid request")

// Service sits between the HTTP handlers and the Store: browsing for
// admins, delivery and answer records for the bot.
type Service struct {
	store  *Store
	logger *logging.Logger
}

func NewService(store *Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// List pages through questions newest first. page is 1-based.
func (s *Service) List(ctx context.Context, area *models.ContentArea, page, pageSize int) (*models.QuestionListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	qs, total, err := s.store.ListQuestions(ctx, area, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if qs == nil {
		qs = []models.Question{}
	}
	return &models.QuestionListResponse{Questions: qs, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Question, error) {
	return s.store.GetQuestion(ctx, id)
}

// RecordDelivery notes that a question was sent to a user.
func (s *Service) RecordDelivery(ctx context.Context, req models.RecordDeliveryRequest) (*models.SentQuestion, error) {
	if req.UserID <= 0 || req.QuestionID <= 0 {
		return nil, fmt.Errorf("%w: user_id and question_id are required", ErrInvalidRequest)
	}
	if _, err := s.store.GetQuestion(ctx, req.QuestionID); err != nil {
		return nil, err
	}

	sent, err := s.store.RecordSent(ctx, req.UserID, req.QuestionID, req.Scheduled)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "delivery recorded",
		zap.Int64("user_id", req.UserID), zap.Int64("question_id", req.QuestionID), zap.Bool("scheduled", req.Scheduled))
	return sent, nil
}

// RecordAnswer grades and stores a user's answer. The answer must be one
// of the question's option keys.
func (s *Service) RecordAnswer(ctx context.Context, req models.RecordAnswerRequest) (*models.RecordAnswerResponse, error) {
	req.Answer = strings.TrimSpace(req.Answer)
	if req.UserID <= 0 || req.QuestionID <= 0 || req.Answer == "" {
		return nil, fmt.Errorf("%w: user_id, question_id and answer are required", ErrInvalidRequest)
	}

	q, err := s.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if !hasOption(q, req.Answer) {
		return nil, fmt.Errorf("%w: answer must be one of %s", ErrInvalidRequest, strings.Join(q.SortedOptionKeys(), ", "))
	}

	ua, q, err := s.store.RecordAnswer(ctx, req.UserID, req.QuestionID, req.Answer)
	if err != nil {
		return nil, err
	}
	return &models.RecordAnswerResponse{
		ID:            ua.ID,
		Correct:       ua.IsCorrect,
		CorrectAnswer: q.CorrectAnswer,
		Explanation:   q.Explanation,
	}, nil
}

func hasOption(q *models.Question, answer string) bool {
	for k := range q.Options {
		if strings.EqualFold(k, answer) {
			return true
		}
	}
	return false
}
