package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/google/uuid"
)

var _ session.Sink = (*Journal)(nil)

// Session is one journaled AR session.
type Session struct {
	SessionID            string    `json:"session_id"`
	StartedAt            time.Time `json:"started_at"`
	DepthMode            string    `json:"depth_mode,omitempty"`
	InstantPlacementMode string    `json:"instant_placement_mode,omitempty"`
	LightEstimationMode  string    `json:"light_estimation_mode,omitempty"`
	EventCount           int       `json:"event_count"`
}

// Placement is one placed object as recorded by its placed event, plus
// the number of edit gestures started on it.
type Placement struct {
	ObjectID  string     `json:"object_id"`
	SessionID string     `json:"session_id"`
	Source    string     `json:"source"`
	PlacedAt  time.Time  `json:"placed_at"`
	Pose      string     `json:"pose,omitempty"`
	EditCount int        `json:"edit_count"`
	LastEdit  *time.Time `json:"last_edit,omitempty"`
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	SessionID string
	Kind      session.Kind
	// Limit caps the result; 0 means 500.
	Limit int
}

const defaultEventLimit = 500

// Publish records ev. It implements session.Sink. Missing IDs and times
// are filled in.
func (j *Journal) Publish(ctx context.Context, ev session.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.SessionID == "" {
		return fmt.Errorf("record %s event %s: missing session id", ev.Kind, ev.ID)
	}
	ts := ev.Time.UnixNano()

	return retryOnBusy(func() error {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, started_at_ns) VALUES (?, ?)
			ON CONFLICT(session_id) DO NOTHING`, ev.SessionID, ts); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		switch ev.Kind {
		case session.KindSessionStarted:
			settings := parseSettings(ev.Detail)
			if _, err := tx.ExecContext(ctx, `
				UPDATE sessions
				SET started_at_ns = ?, depth_mode = ?, instant_placement_mode = ?,
				    light_estimation_mode = ?, detail = ?
				WHERE session_id = ?`,
				ts, settings["depth"], settings["instant_placement"], settings["light"],
				ev.Detail, ev.SessionID); err != nil {
				return fmt.Errorf("update session: %w", err)
			}
		case session.KindPlaced:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO placements (object_id, session_id, source, placed_at_ns, pose)
				VALUES (?, ?, ?, ?, ?)`,
				ev.ObjectID, ev.SessionID, ev.Source, ts, nullString(ev.Detail)); err != nil {
				return fmt.Errorf("insert placement: %w", err)
			}
		case session.KindEditChanged:
			if ev.Reason == "editing_started" {
				if _, err := tx.ExecContext(ctx, `
					UPDATE placements
					SET edit_count = edit_count + 1, last_edit_ns = ?
					WHERE object_id = ?`, ts, ev.ObjectID); err != nil {
					return fmt.Errorf("update placement: %w", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (
				event_id, session_id, kind, occurred_at_ns, object_id, source,
				instances_issued, instances_remaining, reason, detail
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.SessionID, string(ev.Kind), ts, nullString(ev.ObjectID), nullString(ev.Source),
			ev.InstancesIssued, ev.InstancesRemaining, nullString(ev.Reason), nullString(ev.Detail),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return tx.Commit()
	})
}

// ListEvents returns matching events, oldest first.
func (j *Journal) ListEvents(ctx context.Context, f EventFilter) ([]session.Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}

	q := `SELECT event_id, session_id, kind, occurred_at_ns, object_id, source,
	             instances_issued, instances_remaining, reason, detail
	      FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY occurred_at_ns ASC, rowid ASC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []session.Event
	for rows.Next() {
		var (
			ev   session.Event
			kind string
			ts   int64
		)
		var objectID, source, reason, detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &kind, &ts, &objectID, &source,
			&ev.InstancesIssued, &ev.InstancesRemaining, &reason, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = session.Kind(kind)
		ev.Time = time.Unix(0, ts).UTC()
		ev.ObjectID = objectID.String
		ev.Source = source.String
		ev.Reason = reason.String
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListSessions returns every session, most recent first.
func (j *Journal) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at_ns, s.depth_mode, s.instant_placement_mode,
		       s.light_estimation_mode, COUNT(e.event_id)
		FROM sessions s
		LEFT JOIN events e ON e.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s  Session
			ts int64
		)
		var depth, instant, light sql.NullString
		if err := rows.Scan(&s.SessionID, &ts, &depth, &instant, &light, &s.EventCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = time.Unix(0, ts).UTC()
		s.DepthMode = depth.String
		s.InstantPlacementMode = instant.String
		s.LightEstimationMode = light.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPlacements returns the placements of a session in placement order.
func (j *Journal) ListPlacements(ctx context.Context, sessionID string) ([]Placement, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT object_id, session_id, source, placed_at_ns, pose, edit_count, last_edit_ns
		FROM placements
		WHERE session_id = ?
		ORDER BY placed_at_ns ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query placements: %w", err)
	}
	defer rows.Close()

	var out []Placement
	for rows.Next() {
		var (
			p        Placement
			ts       int64
			pose     sql.NullString
			lastEdit sql.NullInt64
		)
		if err := rows.Scan(&p.ObjectID, &p.SessionID, &p.Source, &ts, &pose, &p.EditCount, &lastEdit); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		p.PlacedAt = time.Unix(0, ts).UTC()
		p.Pose = pose.String
		if lastEdit.Valid {
			t := time.Unix(0, lastEdit.Int64).UTC()
			p.LastEdit = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountByKind counts a session's events per kind.
func (j *Journal) CountByKind(ctx context.Context, sessionID string) (map[session.Kind]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM events WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[session.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[session.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// parseSettings reads "key=value" pairs from a session_started detail.
func parseSettings(detail string) map[string]interface{} {
	out := map[string]interface{}{
		"depth":             nil,
		"instant_placement": nil,
		"light":             nil,
	}
	for _, field := range strings.Fields(detail) {
		if k, v, ok := strings.Cut(field, "="); ok {
			out[k] = v
		}
	}
	return out
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
