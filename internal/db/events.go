package db

import (
	"context"
	"database/sql"
	"fmt"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int    `json:"id"`
	Campaign  string `json:"campaign_id"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LogPipelineEvent inserts a pipeline event.
func (d *DB) LogPipelineEvent(ctx context.Context, campaign, event, stage, detail string) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO pipeline_events (campaign, event, stage, detail) VALUES (?, ?, ?, ?)`,
		campaign, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetPipelineHistory returns all pipeline events for a campaign, newest first.
func (d *DB) GetPipelineHistory(ctx context.Context, campaign string) ([]PipelineEvent, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, campaign, event, stage, detail, timestamp
		 FROM pipeline_events WHERE campaign = ? ORDER BY timestamp DESC, id DESC`,
		campaign,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline history: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Campaign, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		if stage.Valid {
			e.Stage = stage.String
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
