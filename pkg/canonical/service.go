package canonical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/inquest/pkg/embedder"
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/llms"
	"github.com/kadirpekel/inquest/pkg/observability"
)

// ServiceConfig tunes slot discovery.
type ServiceConfig struct {
	// BatchSize caps how many surface nodes one discovery call may carry.
	// The remainder is deferred to subsequent turns.
	BatchSize int

	// Timeout bounds the discovery LLM call. It is generous because the
	// call does more reasoning than extraction or scoring.
	Timeout time.Duration

	// SimilarityThreshold is the minimum cosine similarity for merging a
	// proposal into an existing slot.
	SimilarityThreshold float64

	// MinSupport is the mapping count at which a candidate slot activates.
	MinSupport int
}

func (c *ServiceConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.80
	}
	if c.MinSupport <= 0 {
		c.MinSupport = 2
	}
}

// SlotService assigns surface nodes to canonical slots: respondent phrasings
// like "silky", "smooth" and "creamy" collapse into one stable slot such as
// creamy_texture.
type SlotService struct {
	store  *Store
	embed  embedder.Embedder
	llm    llms.Provider
	cfg    ServiceConfig
	logger *slog.Logger
}

func NewSlotService(store *Store, embed embedder.Embedder, llm llms.Provider, cfg ServiceConfig) *SlotService {
	cfg.setDefaults()
	return &SlotService{
		store:  store,
		embed:  embed,
		llm:    llm,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

type slotProposal struct {
	SlotName       string   `json:"slot_name"`
	Description    string   `json:"description"`
	SurfaceNodeIDs []string `json:"surface_node_ids"`
}

type typeGrouping struct {
	ProposedSlots []slotProposal `json:"proposed_slots"`
}

type discoveryResponse struct {
	Groupings map[string]*typeGrouping `json:"groupings"`
}

// DiscoverSlots runs one batched discovery pass over this turn's new surface
// nodes. An LLM failure aborts slot discovery for the turn only; the surface
// graph is already persisted and the pipeline continues with whatever
// canonical state exists.
func (s *SlotService) DiscoverSlots(ctx context.Context, sessionID string, turn int, nodes []*graph.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	if len(nodes) > s.cfg.BatchSize {
		s.logger.Warn("slot discovery batch truncated",
			"session", sessionID, "nodes", len(nodes), "batch_size", s.cfg.BatchSize)
		nodes = nodes[:s.cfg.BatchSize]
	}

	byType := make(map[string][]*graph.Node)
	for _, n := range nodes {
		byType[n.NodeType] = append(byType[n.NodeType], n)
	}
	nodeTypes := make([]string, 0, len(byType))
	for t := range byType {
		nodeTypes = append(nodeTypes, t)
	}
	sort.Strings(nodeTypes)

	existingByType, err := s.fetchActiveSlotNames(ctx, sessionID, nodeTypes)
	if err != nil {
		return err
	}

	temp := 0.3
	resp, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System:      slotDiscoverySystemPrompt,
		Prompt:      buildDiscoveryPrompt(byType, nodeTypes, existingByType),
		Temperature: &temp,
		Timeout:     s.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("slot discovery call failed: %w", err)
	}

	parsed, err := parseDiscoveryResponse(resp.Content)
	if err != nil {
		return err
	}

	// Ids validate against the proposal's own type bucket, so a real node
	// regrouped under the wrong type is rejected like a hallucinated id.
	nodeIndex := make(map[string]map[string]*graph.Node, len(byType))
	for nodeType, group := range byType {
		idx := make(map[string]*graph.Node, len(group))
		for _, n := range group {
			idx[n.ID] = n
		}
		nodeIndex[nodeType] = idx
	}

	for _, nodeType := range nodeTypes {
		grouping, ok := parsed.Groupings[nodeType]
		if !ok || grouping == nil {
			continue
		}
		for _, proposal := range grouping.ProposedSlots {
			if err := s.applyProposal(ctx, sessionID, turn, nodeType, proposal, nodeIndex[nodeType]); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchActiveSlotNames loads active slot names per node type in parallel.
func (s *SlotService) fetchActiveSlotNames(ctx context.Context, sessionID string, nodeTypes []string) (map[string][]string, error) {
	results := make([][]string, len(nodeTypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, nodeType := range nodeTypes {
		i, nodeType := i, nodeType
		g.Go(func() error {
			slots, err := s.store.GetSlots(gctx, sessionID, StatusActive)
			if err != nil {
				return err
			}
			var names []string
			for _, slot := range slots {
				if slot.NodeType == nodeType {
					names = append(names, slot.SlotName)
				}
			}
			results[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(nodeTypes))
	for i, nodeType := range nodeTypes {
		out[nodeType] = results[i]
	}
	return out, nil
}

// applyProposal resolves one proposed slot: exact name match first, then
// embedding similarity against active and candidate slots, then a fresh
// candidate.
func (s *SlotService) applyProposal(ctx context.Context, sessionID string, turn int, nodeType string, proposal slotProposal, nodeIndex map[string]*graph.Node) error {
	surfaceIDs := make([]string, 0, len(proposal.SurfaceNodeIDs))
	for _, id := range proposal.SurfaceNodeIDs {
		if _, ok := nodeIndex[id]; !ok {
			// Hallucinated or wrong-typed id; never trust it.
			s.logger.Warn("slot proposal references node outside its type group",
				"slot", proposal.SlotName, "node_type", nodeType, "surface_node_id", id)
			continue
		}
		surfaceIDs = append(surfaceIDs, id)
	}
	if len(surfaceIDs) == 0 {
		return nil
	}

	slotName := embedder.Lemmatize(proposal.SlotName)

	if existing, err := s.store.FindSlotByNameAndType(ctx, sessionID, slotName, nodeType); err != nil {
		return err
	} else if existing != nil {
		return s.assignToSlot(ctx, sessionID, turn, existing.ID, surfaceIDs, 1.0)
	}

	vec, err := s.embed.Embed(ctx, slotName+" :: "+proposal.Description)
	if err != nil {
		return fmt.Errorf("failed to embed slot %q: %w", slotName, err)
	}

	matches, err := s.store.FindSimilarSlots(ctx, sessionID, nodeType, vec,
		s.cfg.SimilarityThreshold, StatusActive, StatusCandidate)
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		best := matches[0]
		s.logger.Debug("merging slot proposal into existing slot",
			"proposal", slotName, "slot", best.Slot.SlotName, "similarity", best.Similarity)
		return s.assignToSlot(ctx, sessionID, turn, best.Slot.ID, surfaceIDs, best.Similarity)
	}

	created, err := s.store.CreateSlot(ctx, CreateSlotRequest{
		SessionID:     sessionID,
		SlotName:      slotName,
		Description:   proposal.Description,
		NodeType:      nodeType,
		FirstSeenTurn: turn,
		Embedding:     vec,
	})
	if err != nil {
		return err
	}
	return s.assignToSlot(ctx, sessionID, turn, created.ID, surfaceIDs, 1.0)
}

// assignToSlot maps the surface nodes, then re-reads the slot to observe its
// incremented support and promotes it when min_support is reached.
func (s *SlotService) assignToSlot(ctx context.Context, sessionID string, turn int, slotID string, surfaceIDs []string, similarity float64) error {
	for _, surfaceID := range surfaceIDs {
		if err := s.store.MapSurfaceToSlot(ctx, sessionID, surfaceID, slotID, similarity, turn); err != nil {
			return err
		}
	}

	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.Status == StatusCandidate && slot.SupportCount >= s.cfg.MinSupport {
		if err := s.store.PromoteSlot(ctx, slotID, turn); err != nil {
			return err
		}
		observability.RecordSlotPromotion(ctx)
		s.logger.Info("canonical slot promoted",
			"session", sessionID, "slot", slot.SlotName, "support", slot.SupportCount, "turn", turn)
	}
	return nil
}

// AggregateEdges lifts this turn's new surface edges into canonical edges.
// An edge whose endpoints are not both mapped yet is skipped for this turn.
func (s *SlotService) AggregateEdges(ctx context.Context, sessionID string, edges []*graph.Edge) error {
	for _, edge := range edges {
		srcMapping, err := s.store.GetMapping(ctx, edge.SourceNodeID)
		if err != nil {
			return err
		}
		dstMapping, err := s.store.GetMapping(ctx, edge.TargetNodeID)
		if err != nil {
			return err
		}
		if srcMapping == nil || dstMapping == nil {
			continue
		}
		if _, err := s.store.AddOrUpdateCanonicalEdge(ctx, sessionID,
			srcMapping.CanonicalSlotID, dstMapping.CanonicalSlotID, edge.EdgeType, edge.ID); err != nil {
			return err
		}
	}
	return nil
}

const slotDiscoverySystemPrompt = `You are a qualitative research analyst consolidating interview concepts.
You group surface-level phrasings into canonical concept slots.

Rules:
- slot_name is snake_case, at most 3 words, and captures the shared meaning.
- Reuse an existing slot name when a group clearly matches it.
- Every surface node id must appear in exactly one proposed slot.
- Respond with JSON only, no prose, no markdown fences.`

func buildDiscoveryPrompt(byType map[string][]*graph.Node, nodeTypes []string, existingByType map[string][]string) string {
	var b strings.Builder
	b.WriteString("Group these surface concepts into canonical slots, per node type.\n\n")

	for _, nodeType := range nodeTypes {
		fmt.Fprintf(&b, "Node type: %s\n", nodeType)
		if existing := existingByType[nodeType]; len(existing) > 0 {
			fmt.Fprintf(&b, "Existing slots: %s\n", strings.Join(existing, ", "))
		}
		b.WriteString("Surface nodes:\n")
		for _, n := range byType[nodeType] {
			fmt.Fprintf(&b, "  - id=%s label=%q\n", n.ID, n.Label)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Respond with this exact JSON shape:
{"groupings": {"<node_type>": {"proposed_slots": [{"slot_name": "...", "description": "...", "surface_node_ids": ["..."]}]}}}`)
	return b.String()
}

// parseDiscoveryResponse strips markdown fences and enforces the response
// shape. Any structural deviation is a hard error for the discovery step.
func parseDiscoveryResponse(content string) (*discoveryResponse, error) {
	cleaned := stripCodeFences(content)

	var resp discoveryResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("slot discovery response is not valid JSON: %w", err)
	}
	if resp.Groupings == nil {
		return nil, fmt.Errorf("slot discovery response missing groupings object")
	}
	for nodeType, grouping := range resp.Groupings {
		if grouping == nil {
			return nil, fmt.Errorf("slot discovery grouping for %s is null", nodeType)
		}
		for _, proposal := range grouping.ProposedSlots {
			if proposal.SlotName == "" {
				return nil, fmt.Errorf("slot discovery proposal under %s has empty slot_name", nodeType)
			}
			if len(proposal.SurfaceNodeIDs) == 0 {
				return nil, fmt.Errorf("slot discovery proposal %q has no surface_node_ids", proposal.SlotName)
			}
		}
	}
	return &resp, nil
}

func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
