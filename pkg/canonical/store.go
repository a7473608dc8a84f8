package canonical

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/inquest/pkg/vector"
)

// Sentinel errors.
var (
	ErrSlotNotFound = fmt.Errorf("canonical slot not found")
	ErrSlotExists   = fmt.Errorf("canonical slot already exists")
)

// similarSlotsTopK is the floor for index-backed similarity candidates per
// lookup; the window widens to the stored slot count so the post-hoc status
// filter cannot push a qualifying slot out of reach.
const similarSlotsTopK = 16

// Store persists canonical slots, surface mappings and canonical edges.
// The relational database is authoritative; the vector index accelerates
// similarity search and is rebuilt lazily from stored embeddings when a
// lookup misses it.
type Store struct {
	db      *sql.DB
	dialect string
	index   vector.Provider
	logger  *slog.Logger
}

const createSlotsSchemaSQL = `
CREATE TABLE IF NOT EXISTS canonical_slots (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    slot_name VARCHAR(255) NOT NULL,
    description TEXT,
    node_type VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL,
    support_count INTEGER NOT NULL DEFAULT 0,
    first_seen_turn INTEGER NOT NULL,
    promoted_turn INTEGER,
    embedding_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    CONSTRAINT uq_slot_name UNIQUE (session_id, slot_name, node_type)
)`

const createMappingsSchemaSQL = `
CREATE TABLE IF NOT EXISTS surface_to_slot_mapping (
    surface_node_id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    canonical_slot_id VARCHAR(64) NOT NULL,
    similarity_score DOUBLE PRECISION NOT NULL,
    assigned_turn INTEGER NOT NULL
)`

const createMappingsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_mappings_slot ON surface_to_slot_mapping(canonical_slot_id)`

const createCanonicalEdgesSchemaSQL = `
CREATE TABLE IF NOT EXISTS canonical_edges (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    source_slot_id VARCHAR(64) NOT NULL,
    target_slot_id VARCHAR(64) NOT NULL,
    edge_type VARCHAR(128) NOT NULL,
    support_count INTEGER NOT NULL DEFAULT 1,
    surface_edge_ids_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    CONSTRAINT uq_canonical_edge UNIQUE (session_id, source_slot_id, target_slot_id, edge_type)
)`

// NewStore creates the store and its schema. index may be nil.
func NewStore(db *sql.DB, dialect string, index vector.Provider) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if index == nil {
		index = vector.NilProvider{}
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		index:   index,
		logger:  slog.Default(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{
		createSlotsSchemaSQL,
		createMappingsSchemaSQL,
		createMappingsIndexSQL,
		createCanonicalEdgesSchemaSQL,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize canonical schema: %w", err)
		}
	}
	return s, nil
}

func slotCollection(sessionID string) string {
	return "slots_" + sessionID
}

// -----------------------------------------------------------------------------
// Slots
// -----------------------------------------------------------------------------

// CreateSlotRequest carries the inputs for slot creation.
type CreateSlotRequest struct {
	SessionID     string
	SlotName      string
	Description   string
	NodeType      string
	FirstSeenTurn int
	Embedding     []float32
}

// CreateSlot inserts a new candidate slot. Returns ErrSlotExists when
// (session, slot_name, node_type) is taken; callers are expected to check
// FindSlotByNameAndType first.
func (s *Store) CreateSlot(ctx context.Context, req CreateSlotRequest) (*Slot, error) {
	if existing, err := s.FindSlotByNameAndType(ctx, req.SessionID, req.SlotName, req.NodeType); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSlotExists, req.SlotName, req.NodeType)
	}

	now := time.Now().UTC()
	slot := &Slot{
		ID:            uuid.NewString(),
		SessionID:     req.SessionID,
		SlotName:      req.SlotName,
		Description:   req.Description,
		NodeType:      req.NodeType,
		Status:        StatusCandidate,
		SupportCount:  0,
		FirstSeenTurn: req.FirstSeenTurn,
		Embedding:     req.Embedding,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	embeddingJSON, err := marshalEmbedding(slot.Embedding)
	if err != nil {
		return nil, err
	}

	query := s.q(`INSERT INTO canonical_slots
	    (id, session_id, slot_name, description, node_type, status, support_count, first_seen_turn, promoted_turn, embedding_json, created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		slot.ID, slot.SessionID, slot.SlotName, slot.Description, slot.NodeType,
		string(slot.Status), slot.SupportCount, slot.FirstSeenTurn,
		embeddingJSON, slot.CreatedAt, slot.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create slot: %w", err)
	}

	if len(slot.Embedding) > 0 {
		// Index failures degrade similarity search to the brute-force
		// fallback; the slot itself is already durable.
		if err := s.index.Upsert(ctx, slotCollection(slot.SessionID), slot.ID, slot.Embedding,
			map[string]any{"node_type": slot.NodeType}); err != nil {
			s.logger.Warn("slot index upsert failed", "slot", slot.SlotName, "error", err)
		}
	}

	return slot, nil
}

// GetSlot returns a slot by id.
func (s *Store) GetSlot(ctx context.Context, id string) (*Slot, error) {
	query := s.q(`SELECT ` + slotCols + ` FROM canonical_slots WHERE id = ?`)
	slot, err := scanSlot(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	return slot, err
}

// FindSlotByNameAndType returns the slot for (session, name, type), or nil.
func (s *Store) FindSlotByNameAndType(ctx context.Context, sessionID, slotName, nodeType string) (*Slot, error) {
	query := s.q(`SELECT ` + slotCols + ` FROM canonical_slots
	              WHERE session_id = ? AND slot_name = ? AND node_type = ?`)
	slot, err := scanSlot(s.db.QueryRowContext(ctx, query, sessionID, slotName, nodeType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return slot, err
}

// GetSlots returns session slots filtered by status; statuses empty means all.
// Used both by slot discovery (active + candidate) and the canonical view API.
func (s *Store) GetSlots(ctx context.Context, sessionID string, statuses ...SlotStatus) ([]*Slot, error) {
	query := `SELECT ` + slotCols + ` FROM canonical_slots WHERE session_id = ?`
	args := []any{sessionID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var out []*Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// FindSimilarSlots returns slots of the given node type and statuses whose
// embedding cosine similarity to the query meets threshold, descending. The
// vector index serves candidates when available; otherwise every stored
// embedding of the type is scanned.
func (s *Store) FindSimilarSlots(ctx context.Context, sessionID, nodeType string, embedding []float32, threshold float64, statuses ...SlotStatus) ([]SlotMatch, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	allowed := make(map[SlotStatus]bool, len(statuses))
	for _, status := range statuses {
		allowed[status] = true
	}

	topK := similarSlotsTopK
	if n, err := s.countSlotsOfType(ctx, sessionID, nodeType); err != nil {
		s.logger.Warn("slot count failed, using default candidate window", "error", err)
	} else if n > topK {
		topK = n
	}

	hits, err := s.index.SearchWithFilter(ctx, slotCollection(sessionID), embedding, topK,
		map[string]any{"node_type": nodeType})
	if err != nil {
		s.logger.Warn("slot index search failed, falling back to scan", "error", err)
		hits = nil
	}

	var matches []SlotMatch
	if len(hits) > 0 {
		for _, hit := range hits {
			if float64(hit.Score) < threshold {
				continue
			}
			slot, err := s.GetSlot(ctx, hit.ID)
			if err != nil {
				// Index can lag behind deletes.
				continue
			}
			if len(allowed) > 0 && !allowed[slot.Status] {
				continue
			}
			matches = append(matches, SlotMatch{Slot: slot, Similarity: float64(hit.Score)})
		}
	} else {
		slots, err := s.GetSlots(ctx, sessionID, statuses...)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			if slot.NodeType != nodeType || len(slot.Embedding) == 0 {
				continue
			}
			sim := cosineSimilarity(embedding, slot.Embedding)
			if sim >= threshold {
				matches = append(matches, SlotMatch{Slot: slot, Similarity: sim})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

func (s *Store) countSlotsOfType(ctx context.Context, sessionID, nodeType string) (int, error) {
	query := s.q(`SELECT COUNT(*) FROM canonical_slots WHERE session_id = ? AND node_type = ?`)
	var n int
	if err := s.db.QueryRowContext(ctx, query, sessionID, nodeType).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count slots: %w", err)
	}
	return n, nil
}

// PromoteSlot activates a candidate slot.
func (s *Store) PromoteSlot(ctx context.Context, slotID string, turn int) error {
	query := s.q(`UPDATE canonical_slots SET status = ?, promoted_turn = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(StatusActive), turn, time.Now().UTC(), slotID)
	if err != nil {
		return fmt.Errorf("failed to promote slot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Mappings
// -----------------------------------------------------------------------------

// MapSurfaceToSlot upserts the mapping for a surface node and keeps slot
// support counts equal to their mapping counts. A new mapping increments the
// target slot; a rewrite to a different slot also decrements the old one.
func (s *Store) MapSurfaceToSlot(ctx context.Context, sessionID, surfaceNodeID, slotID string, similarity float64, turn int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previousSlotID string
	query := s.q(`SELECT canonical_slot_id FROM surface_to_slot_mapping WHERE surface_node_id = ?`)
	err = tx.QueryRowContext(ctx, query, surfaceNodeID).Scan(&previousSlotID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read existing mapping: %w", err)
	}

	switch {
	case err == sql.ErrNoRows:
		insert := s.q(`INSERT INTO surface_to_slot_mapping
		    (surface_node_id, session_id, canonical_slot_id, similarity_score, assigned_turn)
		    VALUES (?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, surfaceNodeID, sessionID, slotID, similarity, turn); err != nil {
			return fmt.Errorf("failed to insert mapping: %w", err)
		}
		if err := s.adjustSupport(ctx, tx, slotID, +1); err != nil {
			return err
		}

	case previousSlotID == slotID:
		update := s.q(`UPDATE surface_to_slot_mapping SET similarity_score = ?, assigned_turn = ? WHERE surface_node_id = ?`)
		if _, err := tx.ExecContext(ctx, update, similarity, turn, surfaceNodeID); err != nil {
			return fmt.Errorf("failed to update mapping: %w", err)
		}

	default:
		update := s.q(`UPDATE surface_to_slot_mapping SET canonical_slot_id = ?, similarity_score = ?, assigned_turn = ? WHERE surface_node_id = ?`)
		if _, err := tx.ExecContext(ctx, update, slotID, similarity, turn, surfaceNodeID); err != nil {
			return fmt.Errorf("failed to rewrite mapping: %w", err)
		}
		if err := s.adjustSupport(ctx, tx, previousSlotID, -1); err != nil {
			return err
		}
		if err := s.adjustSupport(ctx, tx, slotID, +1); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) adjustSupport(ctx context.Context, tx *sql.Tx, slotID string, delta int) error {
	query := s.q(`UPDATE canonical_slots SET support_count = support_count + ?, updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, delta, time.Now().UTC(), slotID); err != nil {
		return fmt.Errorf("failed to adjust slot support: %w", err)
	}
	return nil
}

// GetMapping returns the mapping for a surface node, or nil.
func (s *Store) GetMapping(ctx context.Context, surfaceNodeID string) (*Mapping, error) {
	query := s.q(`SELECT surface_node_id, canonical_slot_id, similarity_score, assigned_turn
	              FROM surface_to_slot_mapping WHERE surface_node_id = ?`)
	var m Mapping
	err := s.db.QueryRowContext(ctx, query, surfaceNodeID).Scan(
		&m.SurfaceNodeID, &m.CanonicalSlotID, &m.SimilarityScore, &m.AssignedTurn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping: %w", err)
	}
	return &m, nil
}

// -----------------------------------------------------------------------------
// Canonical edges
// -----------------------------------------------------------------------------

// AddOrUpdateCanonicalEdge upserts the canonical relation for one surface
// edge: an existing (session, src, dst, type) row gains support and the
// surface edge id joins its provenance if absent; otherwise a new row starts
// at support 1.
func (s *Store) AddOrUpdateCanonicalEdge(ctx context.Context, sessionID, sourceSlotID, targetSlotID, edgeType, surfaceEdgeID string) (*Edge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	query := s.q(`SELECT ` + canonicalEdgeCols + ` FROM canonical_edges
	    WHERE session_id = ? AND source_slot_id = ? AND target_slot_id = ? AND edge_type = ?`)
	edge, err := scanCanonicalEdge(tx.QueryRowContext(ctx, query, sessionID, sourceSlotID, targetSlotID, edgeType))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query canonical edge: %w", err)
	}

	if err == sql.ErrNoRows {
		edge = &Edge{
			ID:             uuid.NewString(),
			SessionID:      sessionID,
			SourceSlotID:   sourceSlotID,
			TargetSlotID:   targetSlotID,
			EdgeType:       edgeType,
			SupportCount:   1,
			SurfaceEdgeIDs: []string{surfaceEdgeID},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		provenanceJSON, err := json.Marshal(edge.SurfaceEdgeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provenance: %w", err)
		}
		insert := s.q(`INSERT INTO canonical_edges
		    (id, session_id, source_slot_id, target_slot_id, edge_type, support_count, surface_edge_ids_json, created_at, updated_at)
		    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert,
			edge.ID, edge.SessionID, edge.SourceSlotID, edge.TargetSlotID, edge.EdgeType,
			edge.SupportCount, string(provenanceJSON), edge.CreatedAt, edge.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert canonical edge: %w", err)
		}
	} else {
		edge.SupportCount++
		found := false
		for _, id := range edge.SurfaceEdgeIDs {
			if id == surfaceEdgeID {
				found = true
				break
			}
		}
		if !found {
			edge.SurfaceEdgeIDs = append(edge.SurfaceEdgeIDs, surfaceEdgeID)
		}
		edge.UpdatedAt = now

		provenanceJSON, err := json.Marshal(edge.SurfaceEdgeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provenance: %w", err)
		}
		update := s.q(`UPDATE canonical_edges SET support_count = ?, surface_edge_ids_json = ?, updated_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update, edge.SupportCount, string(provenanceJSON), edge.UpdatedAt, edge.ID); err != nil {
			return nil, fmt.Errorf("failed to update canonical edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return edge, nil
}

// GetEdges returns all canonical edges of a session.
func (s *Store) GetEdges(ctx context.Context, sessionID string) ([]*Edge, error) {
	query := s.q(`SELECT ` + canonicalEdgeCols + ` FROM canonical_edges
	              WHERE session_id = ? ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		edge, err := scanCanonicalEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

// DeleteSession removes the session's canonical data and its slot index
// collection.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	for _, table := range []string{"canonical_slots", "surface_to_slot_mapping", "canonical_edges"} {
		query := s.q(`DELETE FROM ` + table + ` WHERE session_id = ?`)
		if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	if err := s.index.DeleteCollection(ctx, slotCollection(sessionID)); err != nil {
		s.logger.Warn("failed to delete slot index collection", "session", sessionID, "error", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

const slotCols = `id, session_id, slot_name, description, node_type, status, support_count, first_seen_turn, promoted_turn, embedding_json, created_at, updated_at`

const canonicalEdgeCols = `id, session_id, source_slot_id, target_slot_id, edge_type, support_count, surface_edge_ids_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*Slot, error) {
	var slot Slot
	var status string
	var promotedTurn sql.NullInt64
	var embeddingJSON sql.NullString
	if err := row.Scan(&slot.ID, &slot.SessionID, &slot.SlotName, &slot.Description,
		&slot.NodeType, &status, &slot.SupportCount, &slot.FirstSeenTurn,
		&promotedTurn, &embeddingJSON, &slot.CreatedAt, &slot.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan slot: %w", err)
	}
	slot.Status = SlotStatus(status)
	if promotedTurn.Valid {
		turn := int(promotedTurn.Int64)
		slot.PromotedTurn = &turn
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &slot.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slot embedding: %w", err)
		}
	}
	return &slot, nil
}

func scanCanonicalEdge(row rowScanner) (*Edge, error) {
	var edge Edge
	var provenanceJSON sql.NullString
	if err := row.Scan(&edge.ID, &edge.SessionID, &edge.SourceSlotID, &edge.TargetSlotID,
		&edge.EdgeType, &edge.SupportCount, &provenanceJSON, &edge.CreatedAt, &edge.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan canonical edge: %w", err)
	}
	if provenanceJSON.Valid && provenanceJSON.String != "" {
		if err := json.Unmarshal([]byte(provenanceJSON.String), &edge.SurfaceEdgeIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge provenance: %w", err)
		}
	}
	return &edge, nil
}

func marshalEmbedding(v []float32) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(b), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *Store) q(query string) string {
	if s.dialect == "postgres" {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

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
