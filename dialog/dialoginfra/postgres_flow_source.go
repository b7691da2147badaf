package dialoginfra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/jmoiron/sqlx"
)

// FlowSchema crea la tabla de flujos
const FlowSchema = `
CREATE TABLE IF NOT EXISTS dialog_flows (
	bot_id     TEXT   NOT NULL,
	name       TEXT   NOT NULL,
	definition TEXT   NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (bot_id, name)
);
`

// PostgresFlowSource reads flow definitions stored as JSON rows.
type PostgresFlowSource struct {
	db *sqlx.DB
}

var _ dialog.FlowSource = (*PostgresFlowSource)(nil)

func NewPostgresFlowSource(db *sqlx.DB) *PostgresFlowSource {
	return &PostgresFlowSource{db: db}
}

type dbFlow struct {
	BotID      string `db:"bot_id"`
	Name       string `db:"name"`
	Definition string `db:"definition"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (s *PostgresFlowSource) LoadAll(ctx context.Context, botID kernel.BotID) ([]dialog.Flow, error) {
	query := s.db.Rebind(`
		SELECT bot_id, name, definition, updated_at
		FROM dialog_flows
		WHERE bot_id = ?
		ORDER BY name`)

	var rows []dbFlow
	if err := s.db.SelectContext(ctx, &rows, query, botID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to load flows", errx.TypeInternal).
			WithDetail("bot_id", botID.String())
	}

	flows := make([]dialog.Flow, 0, len(rows))
	for _, row := range rows {
		var f dialog.Flow
		if err := json.Unmarshal([]byte(row.Definition), &f); err != nil {
			return nil, dialog.ErrInvalidFlowDefinition().
				WithDetail("bot_id", botID.String()).
				WithDetail("flow", row.Name).
				WithCause(err)
		}
		f.Name = row.Name
		flows = append(flows, f)
	}
	return flows, nil
}

// Save stores or replaces one flow.
func (s *PostgresFlowSource) Save(ctx context.Context, botID kernel.BotID, flow dialog.Flow) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	query := `
		INSERT INTO dialog_flows (bot_id, name, definition, updated_at)
		VALUES (:bot_id, :name, :definition, :updated_at)
		ON CONFLICT (bot_id, name) DO UPDATE SET
			definition = excluded.definition,
			updated_at = excluded.updated_at`

	row := dbFlow{
		BotID:      botID.String(),
		Name:       flow.Name,
		Definition: string(raw),
		UpdatedAt:  time.Now().UnixMilli(),
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return errx.Wrap(err, "failed to save flow", errx.TypeInternal).
			WithDetail("bot_id", botID.String()).
			WithDetail("flow", flow.Name)
	}
	return nil
}

func (s *PostgresFlowSource) Delete(ctx context.Context, botID kernel.BotID, name string) error {
	query := s.db.Rebind(`DELETE FROM dialog_flows WHERE bot_id = ? AND name = ?`)

	result, err := s.db.ExecContext(ctx, query, botID.String(), name)
	if err != nil {
		return errx.Wrap(err, "failed to delete flow", errx.TypeInternal).
			WithDetail("bot_id", botID.String()).
			WithDetail("flow", name)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return dialog.ErrFlowNotFound().WithDetail("flow", name)
	}
	return nil
}
