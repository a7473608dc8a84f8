// Package interview owns the session lifecycle and the per-turn pipeline:
// persist the user utterance, extract, materialize the surface graph,
// canonicalize, score, select a strategy, and generate the next question.
package interview

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session lifecycle states.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Interview modes. Coverage-driven sessions steer toward the concept's
// element catalog; graph-driven sessions follow the graph alone.
const (
	ModeCoverageDriven = "coverage_driven"
	ModeGraphDriven    = "graph_driven"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionCompleted      = errors.New("session is closed")
	ErrSessionAlreadyStarted = errors.New("session already started")
	ErrInvalidInput          = errors.New("invalid input")
)

// Session is one interview.
type Session struct {
	ID          string         `json:"id"`
	Methodology string         `json:"methodology"`
	ConceptID   string         `json:"concept_id,omitempty"`
	Objective   string         `json:"objective,omitempty"`
	Mode        string         `json:"mode"`
	Status      string         `json:"status"`
	TurnCount   int            `json:"turn_count"`
	MaxTurns    int            `json:"max_turns"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// RepetitionCount tracks consecutive "what else" style questions; it
	// feeds the question-repetition veto on the next turn.
	RepetitionCount int `json:"-"`

	// ConsecutiveLowInfo carries the saturation estimator's low-information
	// streak across turns.
	ConsecutiveLowInfo int `json:"-"`
}

const sessionSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id                   TEXT PRIMARY KEY,
	methodology          TEXT NOT NULL,
	concept_id           TEXT NOT NULL DEFAULT '',
	objective            TEXT NOT NULL DEFAULT '',
	mode                 TEXT NOT NULL,
	status               TEXT NOT NULL,
	turn_count           INTEGER NOT NULL DEFAULT 0,
	max_turns            INTEGER NOT NULL,
	repetition_count     INTEGER NOT NULL DEFAULT 0,
	consecutive_low_info INTEGER NOT NULL DEFAULT 0,
	config_json          TEXT NOT NULL DEFAULT '{}',
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);
`

// SessionStore persists sessions over database/sql, dialect-aware like the
// graph and canonical stores.
type SessionStore struct {
	db      *sql.DB
	dialect string
}

func NewSessionStore(db *sql.DB, dialect string) (*SessionStore, error) {
	s := &SessionStore{db: db, dialect: dialect}
	for _, stmt := range strings.Split(sessionSchemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize session schema: %w", err)
		}
	}
	return s, nil
}

// CreateSessionRequest is the input to CreateSession; validation happens in
// the service, the store persists what it is given.
type CreateSessionRequest struct {
	Methodology string
	ConceptID   string
	Objective   string
	Mode        string
	MaxTurns    int
	Config      map[string]any
}

func (s *SessionStore) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:          uuid.NewString(),
		Methodology: req.Methodology,
		ConceptID:   req.ConceptID,
		Objective:   req.Objective,
		Mode:        req.Mode,
		Status:      StatusActive,
		MaxTurns:    req.MaxTurns,
		Config:      req.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session config: %w", err)
	}

	query := s.q(`INSERT INTO sessions
		(id, methodology, concept_id, objective, mode, status, turn_count, max_turns,
		 repetition_count, consecutive_low_info, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.Methodology, session.ConceptID, session.Objective,
		session.Mode, session.Status, session.TurnCount, session.MaxTurns,
		session.RepetitionCount, session.ConsecutiveLowInfo, string(configJSON),
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := s.q(`SELECT id, methodology, concept_id, objective, mode, status,
		turn_count, max_turns, repetition_count, consecutive_low_info, config_json,
		created_at, updated_at
		FROM sessions WHERE id = ?`)
	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// UpdateSession writes the mutable session fields.
func (s *SessionStore) UpdateSession(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now().UTC()
	query := s.q(`UPDATE sessions SET status = ?, turn_count = ?,
		repetition_count = ?, consecutive_low_info = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		session.Status, session.TurnCount, session.RepetitionCount,
		session.ConsecutiveLowInfo, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session.ID)
	}
	return nil
}

func (s *SessionStore) ListSessions(ctx context.Context) ([]*Session, error) {
	query := s.q(`SELECT id, methodology, concept_id, objective, mode, status,
		turn_count, max_turns, repetition_count, consecutive_low_info, config_json,
		created_at, updated_at
		FROM sessions ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var configJSON string
	err := row.Scan(&session.ID, &session.Methodology, &session.ConceptID,
		&session.Objective, &session.Mode, &session.Status, &session.TurnCount,
		&session.MaxTurns, &session.RepetitionCount, &session.ConsecutiveLowInfo,
		&configJSON, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if configJSON != "" && configJSON != "{}" {
		_ = json.Unmarshal([]byte(configJSON), &session.Config)
	}
	return &session, nil
}

func (s *SessionStore) q(query string) string {
	if s.dialect == "postgres" {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

func convertToPostgresPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
