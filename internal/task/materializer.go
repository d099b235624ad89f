// Package task turns confirmed drafts into persisted, externally visible
// task records. Materialization is idempotent per conversation id: retrying
// a confirmation never creates a second task.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
)

// Publisher is the slice of the hermes client the materializer needs.
type Publisher interface {
	Publish(subject string, data any) error
}

// Materializer persists tasks and announces them on the bus. Persisting and
// publishing are not transactional across systems; a persisted-but-not-
// announced task is tolerated and logged, never rolled back.
type Materializer struct {
	pool   *pgxpool.Pool
	bus    Publisher
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, bus Publisher, logger *slog.Logger) *Materializer {
	return &Materializer{pool: pool, bus: bus, logger: logger}
}

// Migrate creates the tasks table when it does not exist.
func (m *Materializer) Migrate(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id uuid PRIMARY KEY,
			conversation_id uuid NOT NULL UNIQUE,
			title text NOT NULL,
			assignee text NOT NULL DEFAULT '',
			priority text NOT NULL,
			deadline text NOT NULL DEFAULT '',
			description text NOT NULL DEFAULT '',
			acceptance jsonb NOT NULL DEFAULT '[]',
			estimated_effort text NOT NULL DEFAULT '',
			tags jsonb NOT NULL DEFAULT '[]',
			created_by text NOT NULL,
			channel_id text NOT NULL,
			created_at timestamptz NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate tasks table: %w", err)
	}
	return nil
}

// CreateTask persists the conversation's spec as a task. Called only from a
// confirmed conversation; when a task already exists for the conversation
// its id is returned and nothing new is written.
func (m *Materializer) CreateTask(ctx context.Context, conv *conversation.Conversation) (uuid.UUID, error) {
	spec := conv.Spec
	if spec == nil {
		return uuid.Nil, errors.New("materialize: conversation has no spec")
	}

	acceptance, err := json.Marshal(spec.AcceptanceCriteria)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal acceptance criteria: %w", err)
	}
	tags, err := json.Marshal(spec.Tags)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal tags: %w", err)
	}

	taskID := uuid.New()
	var stored uuid.UUID
	err = m.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, conversation_id, title, assignee, priority, deadline, description, acceptance, estimated_effort, tags, created_by, channel_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (conversation_id) DO NOTHING
		RETURNING id`,
		taskID, conv.ID, spec.Title, spec.Assignee, spec.Priority, spec.Deadline,
		spec.Description, acceptance, spec.EstimatedEffort, tags,
		conv.UserID, conv.ChannelID, time.Now().UTC(),
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: a task already exists for this conversation.
		if err := m.pool.QueryRow(ctx,
			`SELECT id FROM tasks WHERE conversation_id = $1`, conv.ID).Scan(&stored); err != nil {
			return uuid.Nil, fmt.Errorf("lookup existing task: %w", err)
		}
		m.logger.Info("task already materialized", "conversation_id", conv.ID, "task_id", stored)
		return stored, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert task: %w", err)
	}

	if m.bus != nil {
		evt := hermes.TaskCreated{
			TaskID:         stored.String(),
			ConversationID: conv.ID.String(),
			Title:          spec.Title,
			Assignee:       spec.Assignee,
			Priority:       spec.Priority,
			Deadline:       spec.Deadline,
			CreatedBy:      conv.UserID,
			ChannelID:      conv.ChannelID,
		}
		if err := m.bus.Publish(hermes.SubjectTaskCreated, evt); err != nil {
			m.logger.Warn("task created but announcement failed", "task_id", stored, "error", err)
		}
	}

	m.logger.Info("task materialized",
		"task_id", stored,
		"conversation_id", conv.ID,
		"title", spec.Title,
		"assignee", spec.Assignee,
	)
	return stored, nil
}
