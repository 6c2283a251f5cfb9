package questions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abaquiz/backend/internal/models"
)

// ErrNotFound is returned when a question id does not exist.
var ErrNotFound = errors.New("question not found")

// Store is the relational Content Store. Queries use $n placeholders in
// order of appearance, which both lib/pq and go-sqlite3 accept.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ── Question Storage ────────────────────────────────────

const questionCols = `id, content, question_type, options, correct_answer, explanation,
	content_area, category, source_section, source_heading, source_quote, model, created_at`

// InsertQuestion stores q in a single statement and returns the new id.
// Stored questions are never updated.
func (s *Store) InsertQuestion(ctx context.Context, q *models.Question) (int64, error) {
	if errs := q.Validate(); len(errs) > 0 {
		return 0, fmt.Errorf("insert question: invalid record: %s", strings.Join(errs, "; "))
	}

	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, fmt.Errorf("insert question: marshal options: %w", err)
	}

	var section, heading, quote sql.NullString
	if c := q.SourceCitation; c != nil {
		section = nullString(c.Section)
		heading = nullString(c.Heading)
		quote = nullString(c.Quote)
	}

	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO questions (content, question_type, options, correct_answer, explanation,
		     content_area, category, source_section, source_heading, source_quote, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		q.Question, q.Type, string(opts), q.CorrectAnswer, q.Explanation,
		q.ContentArea, q.Category, section, heading, quote, q.Model, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	return id, nil
}

func (s *Store) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// RecentByArea returns up to limit questions for area, most recent first.
func (s *Store) RecentByArea(ctx context.Context, area models.ContentArea, limit int) ([]models.Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+` FROM questions
		 WHERE content_area = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		area, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent by area: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

// ListQuestions pages through questions, optionally filtered by area.
func (s *Store) ListQuestions(ctx context.Context, area *models.ContentArea, limit, offset int) ([]models.Question, int, error) {
	var (
		total int
		rows  *sql.Rows
		err   error
	)
	if area != nil {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE content_area = $1`, *area).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count questions: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+questionCols+` FROM questions WHERE content_area = $1
			 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
			*area, limit, offset)
	} else {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count questions: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+questionCols+` FROM questions
			 ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	qs, err := scanQuestions(rows)
	if err != nil {
		return nil, 0, err
	}
	return qs, total, nil
}

// ── Pool Counts ─────────────────────────────────────────

func (s *Store) CountByArea(ctx context.Context) (map[models.ContentArea]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_area, COUNT(*) FROM questions GROUP BY content_area`)
	if err != nil {
		return nil, fmt.Errorf("count by area: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ContentArea]int, len(models.AllContentAreas))
	for _, area := range models.AllContentAreas {
		counts[area] = 0
	}
	for rows.Next() {
		var area string
		var n int
		if err := rows.Scan(&area, &n); err != nil {
			return nil, fmt.Errorf("scan area count: %w", err)
		}
		counts[models.ContentArea(area)] = n
	}
	return counts, rows.Err()
}

func (s *Store) TotalCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("total count: %w", err)
	}
	return n, nil
}

// ── Pool Health ─────────────────────────────────────────

func (s *Store) activeSince(days int) time.Time {
	return s.now().AddDate(0, 0, -days)
}

// ActiveUserCount counts distinct users with an answer in the last days.
func (s *Store) ActiveUserCount(ctx context.Context, days int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM user_answers WHERE answered_at >= $1`,
		s.activeSince(days),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active user count: %w", err)
	}
	return n, nil
}

// AvgUnseenPerActiveUser is the mean over active users of
// total questions minus distinct questions already sent to that user.
// It is 0 when there are no active users.
func (s *Store) AvgUnseenPerActiveUser(ctx context.Context, days int) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`WITH active AS (
		     SELECT DISTINCT user_id FROM user_answers WHERE answered_at >= $1
		 ),
		 seen AS (
		     SELECT a.user_id, COUNT(DISTINCT sq.question_id) AS shown
		     FROM active a
		     LEFT JOIN sent_questions sq ON sq.user_id = a.user_id
		     GROUP BY a.user_id
		 )
		 SELECT AVG(CAST((SELECT COUNT(*) FROM questions) - shown AS DOUBLE PRECISION)) FROM seen`,
		s.activeSince(days),
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg unseen: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// ── Delivery Tracking ───────────────────────────────────

func (s *Store) RecordSent(ctx context.Context, userID, questionID int64, scheduled bool) (*models.SentQuestion, error) {
	sent := models.SentQuestion{UserID: userID, QuestionID: questionID, Scheduled: scheduled, SentAt: s.now()}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sent_questions (user_id, question_id, is_scheduled, sent_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		userID, questionID, scheduled, sent.SentAt,
	).Scan(&sent.ID)
	if err != nil {
		return nil, fmt.Errorf("record sent: %w", err)
	}
	return &sent, nil
}

// RecordAnswer grades answer against the stored question and records it.
func (s *Store) RecordAnswer(ctx context.Context, userID, questionID int64, answer string) (*models.UserAnswer, *models.Question, error) {
	q, err := s.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, nil, err
	}

	ua := models.UserAnswer{
		UserID:     userID,
		QuestionID: questionID,
		Answer:     answer,
		IsCorrect:  strings.EqualFold(strings.TrimSpace(answer), q.CorrectAnswer),
		AnsweredAt: s.now(),
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO user_answers (user_id, question_id, answer, is_correct, answered_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		userID, questionID, answer, ua.IsCorrect, ua.AnsweredAt,
	).Scan(&ua.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("record answer: %w", err)
	}
	return &ua, q, nil
}

// ── Scanning ────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var (
		q                       models.Question
		opts                    []byte
		section, heading, quote sql.NullString
	)
	if err := row.Scan(&q.ID, &q.Question, &q.Type, &opts, &q.CorrectAnswer, &q.Explanation,
		&q.ContentArea, &q.Category, &section, &heading, &quote, &q.Model, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opts, &q.Options); err != nil {
		return nil, fmt.Errorf("decode options for question %d: %w", q.ID, err)
	}
	if section.Valid || heading.Valid || quote.Valid {
		q.SourceCitation = &models.SourceCitation{
			Section: section.String,
			Heading: heading.String,
			Quote:   quote.String,
		}
	}
	return &q, nil
}

func scanQuestions(rows *sql.Rows) ([]models.Question, error) {
	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
