package dialoginfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/jmoiron/sqlx"
)

// StateSchema crea la tabla de estados de conversación
const StateSchema = `
CREATE TABLE IF NOT EXISTS dialog_states (
	bot_id          TEXT   NOT NULL,
	conversation_id TEXT   NOT NULL,
	state           TEXT   NOT NULL,
	current_flow    TEXT   NOT NULL DEFAULT '',
	current_node    TEXT   NOT NULL DEFAULT '',
	expires_at      BIGINT NULL,
	updated_at      BIGINT NOT NULL,
	PRIMARY KEY (bot_id, conversation_id)
);
CREATE INDEX IF NOT EXISTS idx_dialog_states_expires_at ON dialog_states (expires_at);
`

type PostgresStateRepository struct {
	db *sqlx.DB
}

var _ dialog.StateRepository = (*PostgresStateRepository)(nil)

func NewPostgresStateRepository(db *sqlx.DB) *PostgresStateRepository {
	return &PostgresStateRepository{db: db}
}

// dbState is an intermediate struct for database operations
type dbState struct {
	BotID          string        `db:"bot_id"`
	ConversationID string        `db:"conversation_id"`
	State          string        `db:"state"`
	CurrentFlow    string        `db:"current_flow"`
	CurrentNode    string        `db:"current_node"`
	ExpiresAt      sql.NullInt64 `db:"expires_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

func toDBState(state *dialog.State) (*dbState, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	row := &dbState{
		BotID:          state.BotID.String(),
		ConversationID: state.ConversationID.String(),
		State:          string(raw),
		CurrentFlow:    state.Context.CurrentFlow,
		CurrentNode:    state.Context.CurrentNode,
		UpdatedAt:      time.Now().UnixMilli(),
	}
	if !state.ExpiresAt.IsZero() {
		row.ExpiresAt = sql.NullInt64{Int64: state.ExpiresAt.UnixMilli(), Valid: true}
	}
	return row, nil
}

func toDomainState(row *dbState) (*dialog.State, error) {
	var state dialog.State
	if err := json.Unmarshal([]byte(row.State), &state); err != nil {
		return nil, dialog.ErrStateCorrupted().
			WithDetail("bot_id", row.BotID).
			WithDetail("conversation_id", row.ConversationID).
			WithCause(err)
	}
	state.BotID = kernel.BotID(row.BotID)
	state.ConversationID = kernel.ConversationID(row.ConversationID)
	return &state, nil
}

func (r *PostgresStateRepository) Get(ctx context.Context, key kernel.ConversationKey) (*dialog.State, error) {
	query := r.db.Rebind(`
		SELECT bot_id, conversation_id, state, current_flow, current_node, expires_at, updated_at
		FROM dialog_states
		WHERE bot_id = ? AND conversation_id = ?`)

	var row dbState
	err := r.db.GetContext(ctx, &row, query, key.BotID.String(), key.ConversationID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dialog.ErrStateNotFound().WithDetail("conversation", key.String())
		}
		return nil, errx.Wrap(err, "failed to find conversation state", errx.TypeInternal).
			WithDetail("conversation", key.String())
	}

	return toDomainState(&row)
}

// Save inserts or replaces the state of a conversation.
func (r *PostgresStateRepository) Save(ctx context.Context, state *dialog.State) error {
	row, err := toDBState(state)
	if err != nil {
		return errx.Wrap(err, "failed to convert state", errx.TypeInternal).
			WithDetail("conversation", state.Key().String())
	}

	query := `
		INSERT INTO dialog_states (
			bot_id, conversation_id, state, current_flow, current_node, expires_at, updated_at
		) VALUES (
			:bot_id, :conversation_id, :state, :current_flow, :current_node, :expires_at, :updated_at
		)
		ON CONFLICT (bot_id, conversation_id) DO UPDATE SET
			state = excluded.state,
			current_flow = excluded.current_flow,
			current_node = excluded.current_node,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errx.Wrap(err, "failed to save conversation state", errx.TypeInternal).
			WithDetail("conversation", state.Key().String())
	}
	return nil
}

func (r *PostgresStateRepository) Delete(ctx context.Context, key kernel.ConversationKey) error {
	query := r.db.Rebind(`DELETE FROM dialog_states WHERE bot_id = ? AND conversation_id = ?`)

	result, err := r.db.ExecContext(ctx, query, key.BotID.String(), key.ConversationID.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete conversation state", errx.TypeInternal).
			WithDetail("conversation", key.String())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return dialog.ErrStateNotFound().WithDetail("conversation", key.String())
	}
	return nil
}

func (r *PostgresStateRepository) FindInactive(ctx context.Context, now time.Time, limit int) ([]kernel.ConversationKey, error) {
	query := r.db.Rebind(`
		SELECT bot_id, conversation_id
		FROM dialog_states
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`)

	var rows []struct {
		BotID          string `db:"bot_id"`
		ConversationID string `db:"conversation_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, now.UnixMilli(), limit); err != nil {
		return nil, errx.Wrap(err, "failed to find inactive conversations", errx.TypeInternal)
	}

	keys := make([]kernel.ConversationKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, kernel.NewConversationKey(kernel.BotID(row.BotID), kernel.ConversationID(row.ConversationID)))
	}
	return keys, nil
}

// CountActive cuenta conversaciones con contexto activo
func (r *PostgresStateRepository) CountActive(ctx context.Context, botID kernel.BotID) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM dialog_states WHERE bot_id = ? AND current_flow <> ''`)

	var count int
	if err := r.db.GetContext(ctx, &count, query, botID.String()); err != nil {
		return 0, errx.Wrap(err, "failed to count active conversations", errx.TypeInternal).
			WithDetail("bot_id", botID.String())
	}
	return count, nil
}
