package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/inquest/pkg/methodology"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrNodeNotFound      = fmt.Errorf("node not found")
	ErrEdgeNotFound      = fmt.Errorf("edge not found")
	ErrInvalidNodeType   = fmt.Errorf("invalid node type")
	ErrInvalidConnection = fmt.Errorf("connection not admissible")
)

// Store is the SQL-backed surface graph store. Concurrency is handled by
// database-level locking; multi-statement operations run in transactions.
type Store struct {
	db            *sql.DB
	dialect       string
	methodologies *methodology.Registry
}

const createUtterancesSchemaSQL = `
CREATE TABLE IF NOT EXISTS utterances (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    turn_number INTEGER NOT NULL,
    speaker VARCHAR(16) NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    CONSTRAINT uq_utterance_turn UNIQUE (session_id, turn_number)
)`

const createUtterancesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, turn_number)`

const createNodesSchemaSQL = `
CREATE TABLE IF NOT EXISTS kg_nodes (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    label TEXT NOT NULL,
    node_type VARCHAR(128) NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    properties_json TEXT,
    source_utterance_ids_json TEXT,
    recorded_at TIMESTAMP NOT NULL,
    superseded_by VARCHAR(64)
)`

const createNodesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_nodes_session ON kg_nodes(session_id, recorded_at)`

const createEdgesSchemaSQL = `
CREATE TABLE IF NOT EXISTS kg_edges (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    source_node_id VARCHAR(64) NOT NULL,
    target_node_id VARCHAR(64) NOT NULL,
    edge_type VARCHAR(128) NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    properties_json TEXT,
    source_utterance_ids_json TEXT,
    recorded_at TIMESTAMP NOT NULL,
    superseded_by VARCHAR(64)
)`

const createEdgesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_edges_session ON kg_edges(session_id)`

const createScoringHistorySchemaSQL = `
CREATE TABLE IF NOT EXISTS scoring_history (
    session_id VARCHAR(64) NOT NULL,
    turn_number INTEGER NOT NULL,
    winner_strategy_id VARCHAR(128) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, turn_number)
)`

const createScoringCandidatesSchemaSQL = `
CREATE TABLE IF NOT EXISTS scoring_candidates (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    turn_number INTEGER NOT NULL,
    strategy_id VARCHAR(128) NOT NULL,
    candidate_json TEXT NOT NULL,
    is_winner BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
)`

const createScoringCandidatesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_scoring_candidates_turn ON scoring_candidates(session_id, turn_number)`

// NewStore creates the store and its schema.
func NewStore(db *sql.DB, dialect string, methodologies *methodology.Registry) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &Store{
		db:            db,
		dialect:       dialect,
		methodologies: methodologies,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createUtterancesSchemaSQL,
		createUtterancesIndexSQL,
		createNodesSchemaSQL,
		createNodesIndexSQL,
		createEdgesSchemaSQL,
		createEdgesIndexSQL,
		createScoringHistorySchemaSQL,
		createScoringCandidatesSchemaSQL,
		createScoringCandidatesIndexSQL,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------
// Utterances
// -----------------------------------------------------------------------------

// SaveUtterance appends one conversation entry with the given turn number.
func (s *Store) SaveUtterance(ctx context.Context, sessionID string, turnNumber int, speaker Speaker, text string) (*Utterance, error) {
	u := &Utterance{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		TurnNumber: turnNumber,
		Speaker:    speaker,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}

	query := s.q(`INSERT INTO utterances (id, session_id, turn_number, speaker, text, created_at)
	              VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		u.ID, u.SessionID, u.TurnNumber, string(u.Speaker), u.Text, u.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save utterance: %w", err)
	}

	return u, nil
}

// NextTurnNumber returns MAX(turn_number)+1 for a session. Turn numbering
// derives from the persisted sequence, which keeps it gap-free even when a
// prior turn aborted mid-pipeline.
func (s *Store) NextTurnNumber(ctx context.Context, sessionID string) (int, error) {
	query := s.q(`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM utterances WHERE session_id = ?`)

	var next int
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next turn number: %w", err)
	}
	return next, nil
}

// GetUtterances returns all utterances in turn order.
func (s *Store) GetUtterances(ctx context.Context, sessionID string) ([]*Utterance, error) {
	query := s.q(`SELECT id, session_id, turn_number, speaker, text, created_at
	              FROM utterances WHERE session_id = ? ORDER BY turn_number ASC`)
	return s.queryUtterances(ctx, query, sessionID)
}

// GetRecentUtterances returns the last k utterances in chronological order.
func (s *Store) GetRecentUtterances(ctx context.Context, sessionID string, k int) ([]*Utterance, error) {
	cols := `id, session_id, turn_number, speaker, text, created_at`
	query := s.q(`SELECT ` + cols + ` FROM (
	    SELECT ` + cols + ` FROM utterances WHERE session_id = ?
	    ORDER BY turn_number DESC LIMIT ?
	) sub ORDER BY turn_number ASC`)
	return s.queryUtterances(ctx, query, sessionID, k)
}

func (s *Store) queryUtterances(ctx context.Context, query string, args ...any) ([]*Utterance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances: %w", err)
	}
	defer rows.Close()

	var out []*Utterance
	for rows.Next() {
		var u Utterance
		var speaker string
		if err := rows.Scan(&u.ID, &u.SessionID, &u.TurnNumber, &speaker, &u.Text, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan utterance: %w", err)
		}
		u.Speaker = Speaker(speaker)
		out = append(out, &u)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Nodes
// -----------------------------------------------------------------------------

// CreateNodeRequest carries the inputs for node creation.
type CreateNodeRequest struct {
	SessionID          string
	Methodology        string
	Label              string
	NodeType           string
	Confidence         float64
	Properties         map[string]any
	SourceUtteranceIDs []string
}

// CreateNode persists a new surface node after validating its type against
// the session's methodology.
func (s *Store) CreateNode(ctx context.Context, req CreateNodeRequest) (*Node, error) {
	schema, err := s.methodologies.Get(req.Methodology)
	if err != nil {
		return nil, err
	}
	if !schema.ValidNodeType(req.NodeType) {
		return nil, fmt.Errorf("%w: %q in methodology %s", ErrInvalidNodeType, req.NodeType, req.Methodology)
	}

	node := &Node{
		ID:                 uuid.NewString(),
		SessionID:          req.SessionID,
		Label:              req.Label,
		NodeType:           req.NodeType,
		Confidence:         req.Confidence,
		Properties:         req.Properties,
		SourceUtteranceIDs: req.SourceUtteranceIDs,
		RecordedAt:         time.Now().UTC(),
	}

	propsJSON, err := marshalMap(node.Properties)
	if err != nil {
		return nil, err
	}
	sourcesJSON, err := marshalStrings(node.SourceUtteranceIDs)
	if err != nil {
		return nil, err
	}

	query := s.q(`INSERT INTO kg_nodes
	    (id, session_id, label, node_type, confidence, properties_json, source_utterance_ids_json, recorded_at, superseded_by)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`)
	if _, err := s.db.ExecContext(ctx, query,
		node.ID, node.SessionID, node.Label, node.NodeType, node.Confidence,
		propsJSON, sourcesJSON, node.RecordedAt); err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	return node, nil
}

// FindNodeByLabelAndType returns the active node matching (label, type)
// case-insensitively, or nil when absent.
func (s *Store) FindNodeByLabelAndType(ctx context.Context, sessionID, label, nodeType string) (*Node, error) {
	query := s.q(`SELECT ` + nodeCols + ` FROM kg_nodes
	              WHERE session_id = ? AND LOWER(label) = LOWER(?) AND node_type = ? AND superseded_by IS NULL
	              LIMIT 1`)

	node, err := s.scanOneNode(s.db.QueryRowContext(ctx, query, sessionID, label, nodeType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return node, err
}

// GetNode returns a node by id regardless of supersession.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	query := s.q(`SELECT ` + nodeCols + ` FROM kg_nodes WHERE id = ?`)
	node, err := s.scanOneNode(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	return node, err
}

// SupersedeNode marks old as superseded by new. The old node disappears
// from active queries.
func (s *Store) SupersedeNode(ctx context.Context, oldID, newID string) error {
	query := s.q(`UPDATE kg_nodes SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`)
	res, err := s.db.ExecContext(ctx, query, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to supersede node: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, oldID)
	}
	return nil
}

// AddNodeSource appends an utterance id to the node's provenance if absent.
func (s *Store) AddNodeSource(ctx context.Context, nodeID, utteranceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.q(`SELECT source_utterance_ids_json FROM kg_nodes WHERE id = ?`)
	var sourcesJSON sql.NullString
	if err := tx.QueryRowContext(ctx, query, nodeID).Scan(&sourcesJSON); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		return fmt.Errorf("failed to read node sources: %w", err)
	}

	sources := unmarshalStrings(sourcesJSON.String)
	for _, id := range sources {
		if id == utteranceID {
			return tx.Commit()
		}
	}
	sources = append(sources, utteranceID)

	newJSON, err := marshalStrings(sources)
	if err != nil {
		return err
	}
	update := s.q(`UPDATE kg_nodes SET source_utterance_ids_json = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, newJSON, nodeID); err != nil {
		return fmt.Errorf("failed to update node sources: %w", err)
	}

	return tx.Commit()
}

// GetActiveNodes returns all active nodes of a session.
func (s *Store) GetActiveNodes(ctx context.Context, sessionID string) ([]*Node, error) {
	query := s.q(`SELECT ` + nodeCols + ` FROM kg_nodes
	              WHERE session_id = ? AND superseded_by IS NULL ORDER BY recorded_at ASC`)
	return s.queryNodes(ctx, query, sessionID)
}

// GetRecentNodes returns the k most recently recorded active nodes, most
// recent first.
func (s *Store) GetRecentNodes(ctx context.Context, sessionID string, k int) ([]*Node, error) {
	query := s.q(`SELECT ` + nodeCols + ` FROM kg_nodes
	              WHERE session_id = ? AND superseded_by IS NULL
	              ORDER BY recorded_at DESC LIMIT ?`)
	return s.queryNodes(ctx, query, sessionID, k)
}

const nodeCols = `id, session_id, label, node_type, confidence, properties_json, source_utterance_ids_json, recorded_at, superseded_by`

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var propsJSON, sourcesJSON, supersededBy sql.NullString
	if err := row.Scan(&n.ID, &n.SessionID, &n.Label, &n.NodeType, &n.Confidence,
		&propsJSON, &sourcesJSON, &n.RecordedAt, &supersededBy); err != nil {
		return nil, err
	}
	n.Properties = unmarshalMap(propsJSON.String)
	n.SourceUtteranceIDs = unmarshalStrings(sourcesJSON.String)
	n.SupersededBy = supersededBy.String
	return &n, nil
}

func (s *Store) scanOneNode(row *sql.Row) (*Node, error) {
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	return node, nil
}

// -----------------------------------------------------------------------------
// Edges
// -----------------------------------------------------------------------------

// CreateEdgeRequest carries the inputs for edge creation.
type CreateEdgeRequest struct {
	SessionID          string
	Methodology        string
	SourceNodeID       string
	TargetNodeID       string
	EdgeType           string
	Confidence         float64
	Properties         map[string]any
	SourceUtteranceIDs []string
}

// CreateEdge persists a typed edge. Idempotent: a duplicate
// (session, source, target, edge_type) returns the existing active edge,
// with the new source utterance ids merged into its provenance.
func (s *Store) CreateEdge(ctx context.Context, req CreateEdgeRequest) (*Edge, error) {
	schema, err := s.methodologies.Get(req.Methodology)
	if err != nil {
		return nil, err
	}
	if !schema.ValidEdgeType(req.EdgeType) {
		return nil, fmt.Errorf("%w: unknown edge type %q", ErrInvalidConnection, req.EdgeType)
	}

	src, err := s.GetNode(ctx, req.SourceNodeID)
	if err != nil {
		return nil, err
	}
	dst, err := s.GetNode(ctx, req.TargetNodeID)
	if err != nil {
		return nil, err
	}
	if !src.Active() || !dst.Active() {
		return nil, fmt.Errorf("%w: endpoints must be active", ErrInvalidConnection)
	}
	if !schema.ValidConnection(req.EdgeType, src.NodeType, dst.NodeType) {
		return nil, fmt.Errorf("%w: %s(%s -> %s)", ErrInvalidConnection, req.EdgeType, src.NodeType, dst.NodeType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existQuery := s.q(`SELECT ` + edgeCols + ` FROM kg_edges
	    WHERE session_id = ? AND source_node_id = ? AND target_node_id = ? AND edge_type = ? AND superseded_by IS NULL
	    LIMIT 1`)
	existing, err := scanEdge(tx.QueryRowContext(ctx, existQuery,
		req.SessionID, req.SourceNodeID, req.TargetNodeID, req.EdgeType))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing edge: %w", err)
	}

	if err == nil {
		// Merge new provenance into the existing row.
		changed := false
		for _, id := range req.SourceUtteranceIDs {
			if !containsString(existing.SourceUtteranceIDs, id) {
				existing.SourceUtteranceIDs = append(existing.SourceUtteranceIDs, id)
				changed = true
			}
		}
		if changed {
			sourcesJSON, err := marshalStrings(existing.SourceUtteranceIDs)
			if err != nil {
				return nil, err
			}
			update := s.q(`UPDATE kg_edges SET source_utterance_ids_json = ? WHERE id = ?`)
			if _, err := tx.ExecContext(ctx, update, sourcesJSON, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to update edge sources: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, nil
	}

	edge := &Edge{
		ID:                 uuid.NewString(),
		SessionID:          req.SessionID,
		SourceNodeID:       req.SourceNodeID,
		TargetNodeID:       req.TargetNodeID,
		EdgeType:           req.EdgeType,
		Confidence:         req.Confidence,
		Properties:         req.Properties,
		SourceUtteranceIDs: req.SourceUtteranceIDs,
		RecordedAt:         time.Now().UTC(),
	}

	propsJSON, err := marshalMap(edge.Properties)
	if err != nil {
		return nil, err
	}
	sourcesJSON, err := marshalStrings(edge.SourceUtteranceIDs)
	if err != nil {
		return nil, err
	}

	insert := s.q(`INSERT INTO kg_edges
	    (id, session_id, source_node_id, target_node_id, edge_type, confidence, properties_json, source_utterance_ids_json, recorded_at, superseded_by)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`)
	if _, err := tx.ExecContext(ctx, insert,
		edge.ID, edge.SessionID, edge.SourceNodeID, edge.TargetNodeID, edge.EdgeType,
		edge.Confidence, propsJSON, sourcesJSON, edge.RecordedAt); err != nil {
		return nil, fmt.Errorf("failed to create edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return edge, nil
}

// GetActiveEdges returns all active edges of a session.
func (s *Store) GetActiveEdges(ctx context.Context, sessionID string) ([]*Edge, error) {
	query := s.q(`SELECT ` + edgeCols + ` FROM kg_edges
	              WHERE session_id = ? AND superseded_by IS NULL ORDER BY recorded_at ASC`)

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

const edgeCols = `id, session_id, source_node_id, target_node_id, edge_type, confidence, properties_json, source_utterance_ids_json, recorded_at, superseded_by`

func scanEdge(row rowScanner) (*Edge, error) {
	var e Edge
	var propsJSON, sourcesJSON, supersededBy sql.NullString
	if err := row.Scan(&e.ID, &e.SessionID, &e.SourceNodeID, &e.TargetNodeID, &e.EdgeType,
		&e.Confidence, &propsJSON, &sourcesJSON, &e.RecordedAt, &supersededBy); err != nil {
		return nil, err
	}
	e.Properties = unmarshalMap(propsJSON.String)
	e.SourceUtteranceIDs = unmarshalStrings(sourcesJSON.String)
	e.SupersededBy = supersededBy.String
	return &e, nil
}

// -----------------------------------------------------------------------------
// Scoring trace
// -----------------------------------------------------------------------------

// SaveScoringTrace persists all candidates of one turn atomically.
func (s *Store) SaveScoringTrace(ctx context.Context, sessionID string, turnNumber int, candidates []*CandidateTrace, winnerStrategyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	historyQuery := s.q(`INSERT INTO scoring_history (session_id, turn_number, winner_strategy_id, created_at)
	                     VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, historyQuery, sessionID, turnNumber, winnerStrategyID, now); err != nil {
		return fmt.Errorf("failed to save scoring history: %w", err)
	}

	candidateQuery := s.q(`INSERT INTO scoring_candidates
	    (id, session_id, turn_number, strategy_id, candidate_json, is_winner, created_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, candidate := range candidates {
		candidateJSON, err := json.Marshal(candidate)
		if err != nil {
			return fmt.Errorf("failed to marshal candidate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, candidateQuery,
			uuid.NewString(), sessionID, turnNumber, candidate.StrategyID,
			string(candidateJSON), candidate.IsWinner, now); err != nil {
			return fmt.Errorf("failed to save scoring candidate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ScoringTurn is the read model for a persisted scoring trace.
type ScoringTurn struct {
	TurnNumber       int               `json:"turn_number"`
	WinnerStrategyID string            `json:"winner_strategy_id"`
	Candidates       []*CandidateTrace `json:"candidates"`
}

// GetScoringForTurn returns the persisted trace of one turn, or nil when
// the turn has no trace.
func (s *Store) GetScoringForTurn(ctx context.Context, sessionID string, turnNumber int) (*ScoringTurn, error) {
	historyQuery := s.q(`SELECT winner_strategy_id FROM scoring_history
	                     WHERE session_id = ? AND turn_number = ?`)
	var winner string
	err := s.db.QueryRowContext(ctx, historyQuery, sessionID, turnNumber).Scan(&winner)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scoring history: %w", err)
	}

	candidateQuery := s.q(`SELECT candidate_json FROM scoring_candidates
	                       WHERE session_id = ? AND turn_number = ? ORDER BY created_at ASC, id ASC`)
	rows, err := s.db.QueryContext(ctx, candidateQuery, sessionID, turnNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query scoring candidates: %w", err)
	}
	defer rows.Close()

	turn := &ScoringTurn{TurnNumber: turnNumber, WinnerStrategyID: winner}
	for rows.Next() {
		var candidateJSON string
		if err := rows.Scan(&candidateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan scoring candidate: %w", err)
		}
		var candidate CandidateTrace
		if err := json.Unmarshal([]byte(candidateJSON), &candidate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scoring candidate: %w", err)
		}
		turn.Candidates = append(turn.Candidates, &candidate)
	}
	return turn, rows.Err()
}

// GetWinnerHistory returns the ordered winner strategy ids for a session.
func (s *Store) GetWinnerHistory(ctx context.Context, sessionID string) ([]string, error) {
	query := s.q(`SELECT winner_strategy_id FROM scoring_history
	              WHERE session_id = ? ORDER BY turn_number ASC`)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query winner history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteSession removes all graph data of a session (cascade portion owned
// by this store).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	for _, table := range []string{"utterances", "kg_nodes", "kg_edges", "scoring_history", "scoring_candidates"} {
		query := s.q(`DELETE FROM ` + table + ` WHERE session_id = ?`)
		if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Store) q(query string) string {
	if s.dialect == "postgres" {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

// convertToPostgresPlaceholders converts ? to $1, $2, etc. in a single pass.
func convertToPostgresPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 20)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			b.WriteString(fmt.Sprintf("$%d", paramNum))
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal properties: %w", err)
	}
	return string(b), nil
}

func unmarshalMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func marshalStrings(v []string) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
