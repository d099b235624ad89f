package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/envoy/internal/batch"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

// Postgres is the production Store backed by pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, shared with the task store.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates the session tables when they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id uuid PRIMARY KEY,
			user_id text NOT NULL,
			channel_id text NOT NULL,
			stage text NOT NULL,
			original_message text NOT NULL,
			extracted jsonb NOT NULL DEFAULT '{}',
			questions jsonb NOT NULL DEFAULT '[]',
			spec jsonb,
			task_id uuid,
			reminder_sent boolean NOT NULL DEFAULT false,
			created_at timestamptz NOT NULL,
			last_activity timestamptz NOT NULL,
			completed_at timestamptz
		);
		CREATE UNIQUE INDEX IF NOT EXISTS conversations_one_active
			ON conversations (user_id)
			WHERE stage NOT IN ('completed', 'abandoned', 'error');
		CREATE TABLE IF NOT EXISTS batch_sessions (
			user_id text PRIMARY KEY,
			payload jsonb NOT NULL,
			updated_at timestamptz NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("migrate session tables: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, c *conversation.Conversation) error {
	extracted, questions, spec, err := marshalConvJSON(c)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, channel_id, stage, original_message, extracted, questions, spec, task_id, reminder_sent, created_at, last_activity, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.UserID, c.ChannelID, string(c.Stage), c.OriginalMessage,
		extracted, questions, spec, nullUUID(c.TaskID), c.ReminderSent,
		c.CreatedAt, c.LastActivity, nullTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, channel_id, stage, original_message, extracted, questions, spec, task_id, reminder_sent, created_at, last_activity, completed_at
		FROM conversations
		WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetActive(ctx context.Context, userID string) (*conversation.Conversation, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, channel_id, stage, original_message, extracted, questions, spec, task_id, reminder_sent, created_at, last_activity, completed_at
		FROM conversations
		WHERE user_id = $1 AND stage NOT IN ('completed', 'abandoned', 'error')
		ORDER BY last_activity DESC
		LIMIT 1`, userID)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActive
		}
		return nil, fmt.Errorf("get active conversation: %w", err)
	}
	return c, nil
}

func (p *Postgres) Save(ctx context.Context, c *conversation.Conversation) error {
	extracted, questions, spec, err := marshalConvJSON(c)
	if err != nil {
		return err
	}
	// Last write wins, but last_activity never moves backwards.
	_, err = p.pool.Exec(ctx, `
		UPDATE conversations SET
			stage = $2,
			extracted = $3,
			questions = $4,
			spec = $5,
			task_id = $6,
			reminder_sent = $7,
			last_activity = GREATEST(last_activity, $8),
			completed_at = $9
		WHERE id = $1`,
		c.ID, string(c.Stage), extracted, questions, spec,
		nullUUID(c.TaskID), c.ReminderSent, c.LastActivity, nullTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (p *Postgres) ClearActive(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE conversations SET stage = 'abandoned'
		WHERE user_id = $1 AND stage NOT IN ('completed', 'abandoned', 'error')`, userID)
	if err != nil {
		return fmt.Errorf("clear active conversation: %w", err)
	}
	return nil
}

func (p *Postgres) ScanStale(ctx context.Context, idleBefore time.Time, limit int) ([]*conversation.Conversation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, channel_id, stage, original_message, extracted, questions, spec, task_id, reminder_sent, created_at, last_activity, completed_at
		FROM conversations
		WHERE stage NOT IN ('completed', 'abandoned', 'error') AND last_activity < $1
		ORDER BY last_activity ASC
		LIMIT $2`, idleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("scan stale conversations: %w", err)
	}
	defer rows.Close()

	var out []*conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) PurgeExpired(ctx context.Context, activeBefore, terminalBefore time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE (stage NOT IN ('completed', 'abandoned', 'error') AND last_activity < $1)
		   OR (stage IN ('completed', 'abandoned', 'error') AND last_activity < $2)`,
		activeBefore, terminalBefore)
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	n := int(tag.RowsAffected())

	tag, err = p.pool.Exec(ctx,
		`DELETE FROM batch_sessions WHERE updated_at < $1`, activeBefore)
	if err != nil {
		return n, fmt.Errorf("purge batch sessions: %w", err)
	}
	return n + int(tag.RowsAffected()), nil
}

func (p *Postgres) SaveBatch(ctx context.Context, s *batch.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal batch session: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO batch_sessions (user_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET payload = $2, updated_at = now()`,
		s.UserID, payload)
	if err != nil {
		return fmt.Errorf("save batch session: %w", err)
	}
	return nil
}

func (p *Postgres) GetBatch(ctx context.Context, userID string) (*batch.Session, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM batch_sessions WHERE user_id = $1`, userID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get batch session: %w", err)
	}
	var s batch.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshal batch session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) DeleteBatch(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM batch_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete batch session: %w", err)
	}
	return nil
}

func marshalConvJSON(c *conversation.Conversation) (extracted, questions, spec []byte, err error) {
	extracted, err = json.Marshal(c.Extracted)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal extracted: %w", err)
	}
	questions, err = json.Marshal(c.Questions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal questions: %w", err)
	}
	if c.Spec != nil {
		spec, err = json.Marshal(c.Spec)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal spec: %w", err)
		}
	}
	return extracted, questions, spec, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanConversation(row pgx.Row) (*conversation.Conversation, error) {
	var c conversation.Conversation
	var stage string
	var extracted, questions, spec []byte
	var taskID *uuid.UUID
	var completedAt *time.Time
	err := row.Scan(&c.ID, &c.UserID, &c.ChannelID, &stage, &c.OriginalMessage,
		&extracted, &questions, &spec, &taskID, &c.ReminderSent,
		&c.CreatedAt, &c.LastActivity, &completedAt)
	if err != nil {
		return nil, err
	}
	c.Stage = conversation.Stage(stage)
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &c.Extracted); err != nil {
			return nil, fmt.Errorf("unmarshal extracted: %w", err)
		}
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &c.Questions); err != nil {
			return nil, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	if len(spec) > 0 {
		c.Spec = &conversation.TaskSpec{}
		if err := json.Unmarshal(spec, c.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec: %w", err)
		}
	}
	if taskID != nil {
		c.TaskID = *taskID
	}
	if completedAt != nil {
		c.CompletedAt = *completedAt
	}
	return &c, nil
}
