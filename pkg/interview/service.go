package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/inquest/pkg/canonical"
	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/extraction"
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/methodology"
	"github.com/kadirpekel/inquest/pkg/observability"
	"github.com/kadirpekel/inquest/pkg/question"
	"github.com/kadirpekel/inquest/pkg/scoring"
	"github.com/kadirpekel/inquest/pkg/signals"
	"github.com/kadirpekel/inquest/pkg/strategy"
)

// maxUserTextChars caps a single turn's user input.
const maxUserTextChars = 5000

// conversationWindow is how many recent utterances the pipeline loads for
// signal extraction, scoring and question generation.
const conversationWindow = 12

// TurnResult is the full outcome of one processed turn.
type TurnResult struct {
	SessionID        string                   `json:"session_id"`
	TurnNumber       int                      `json:"turn_number"`
	Question         string                   `json:"question"`
	ShouldContinue   bool                     `json:"should_continue"`
	SelectedStrategy string                   `json:"selected_strategy"`
	Phase            string                   `json:"phase"`
	Extraction       *extraction.Result       `json:"extraction,omitempty"`
	NewNodes         []*graph.Node            `json:"new_nodes,omitempty"`
	NewEdges         []*graph.Edge            `json:"new_edges,omitempty"`
	State            *graph.GraphState        `json:"graph_state"`
	Signals          *signals.Set             `json:"signals,omitempty"`
	Alternatives     []*graph.CandidateTrace  `json:"alternatives,omitempty"`
	LatencyMS        int64                    `json:"latency_ms"`
}

// sessionLocks serializes turns per session; different sessions proceed in
// parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *sessionLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// Service orchestrates interviews end to end.
type Service struct {
	sessions      *SessionStore
	graphStore    *graph.Store
	canonStore    *canonical.Store
	slots         *canonical.SlotService
	extractor     *extraction.Service
	signalizer    *signals.Extractor
	strategies    *strategy.Service
	questions     *question.Service
	methodologies *methodology.Registry
	concepts      *methodology.ConceptCatalog
	cfg           config.InterviewConfig
	locks         sessionLocks
	stratMu       sync.RWMutex
	logger        *slog.Logger
}

// ReplaceStrategies swaps in a freshly built selection service. Config watch
// uses this when scoring weights change; engines are rebuilt, never mutated.
// In-flight turns finish on the instance they already read.
func (s *Service) ReplaceStrategies(strategies *strategy.Service) {
	if strategies == nil {
		return
	}
	s.stratMu.Lock()
	s.strategies = strategies
	s.stratMu.Unlock()
}

func (s *Service) strategySvc() *strategy.Service {
	s.stratMu.RLock()
	defer s.stratMu.RUnlock()
	return s.strategies
}

// ServiceDeps bundles the collaborators the turn pipeline runs on.
type ServiceDeps struct {
	Sessions      *SessionStore
	GraphStore    *graph.Store
	CanonStore    *canonical.Store
	Slots         *canonical.SlotService
	Extractor     *extraction.Service
	Signals       *signals.Extractor
	Strategies    *strategy.Service
	Questions     *question.Service
	Methodologies *methodology.Registry
	Concepts      *methodology.ConceptCatalog
}

func NewService(deps ServiceDeps, cfg config.InterviewConfig) (*Service, error) {
	if deps.Sessions == nil || deps.GraphStore == nil || deps.Extractor == nil ||
		deps.Strategies == nil || deps.Questions == nil || deps.Methodologies == nil {
		return nil, fmt.Errorf("interview service is missing required dependencies")
	}
	cfg.SetDefaults()
	return &Service{
		sessions:      deps.Sessions,
		graphStore:    deps.GraphStore,
		canonStore:    deps.CanonStore,
		slots:         deps.Slots,
		extractor:     deps.Extractor,
		signalizer:    deps.Signals,
		strategies:    deps.Strategies,
		questions:     deps.Questions,
		methodologies: deps.Methodologies,
		concepts:      deps.Concepts,
		cfg:           cfg,
		logger:        slog.Default(),
	}, nil
}

// Create validates the request and persists a new active session.
func (s *Service) Create(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if _, err := s.methodologies.Get(req.Methodology); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	switch req.Mode {
	case "":
		req.Mode = ModeCoverageDriven
	case ModeCoverageDriven, ModeGraphDriven:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}
	if req.MaxTurns <= 0 {
		req.MaxTurns = s.cfg.MaxTurns
	}
	return s.sessions.CreateSession(ctx, req)
}

// Start generates and persists the opening question as turn 1. It may run
// once per session.
func (s *Service) Start(ctx context.Context, sessionID string) (*Session, string, error) {
	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session.Status != StatusActive {
		return nil, "", fmt.Errorf("%w: %s", ErrSessionCompleted, sessionID)
	}
	if existing, err := s.graphStore.GetUtterances(ctx, sessionID); err != nil {
		return nil, "", err
	} else if len(existing) > 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrSessionAlreadyStarted, sessionID)
	}

	schema, err := s.methodologies.Get(session.Methodology)
	if err != nil {
		return nil, "", err
	}
	objective := session.Objective
	if objective == "" {
		objective = fmt.Sprintf("understand the respondent's experience with %s", s.topicFor(session))
	}
	opening, err := s.questions.GenerateOpening(ctx, objective, schema)
	if err != nil {
		return nil, "", err
	}

	if _, err := s.graphStore.SaveUtterance(ctx, sessionID, 1, graph.SpeakerSystem, opening); err != nil {
		return nil, "", err
	}
	return session, opening, nil
}

// ProcessTurn runs one full turn: persist the user utterance, extract and
// materialize the graph, canonicalize, score, pick a strategy and generate
// the next question. Turns of the same session serialize on the session
// lock; the lock is held across the LLM calls so turn N+1 observes all of
// turn N's writes.
func (s *Service) ProcessTurn(ctx context.Context, sessionID, userText string) (result *TurnResult, err error) {
	start := time.Now()
	defer func() { observability.RecordTurn(ctx, time.Since(start), err) }()

	userText = strings.TrimSpace(userText)
	if userText == "" || len(userText) > maxUserTextChars {
		return nil, fmt.Errorf("%w: user text must be 1..%d characters", ErrInvalidInput, maxUserTextChars)
	}

	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionCompleted, sessionID)
	}
	schema, err := s.methodologies.Get(session.Methodology)
	if err != nil {
		return nil, err
	}
	concept := s.conceptFor(session)

	turnNumber, err := s.graphStore.NextTurnNumber(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	utterance, err := s.graphStore.SaveUtterance(ctx, sessionID, turnNumber, graph.SpeakerUser, userText)
	if err != nil {
		return nil, err
	}

	conversation, err := s.graphStore.GetRecentUtterances(ctx, sessionID, conversationWindow)
	if err != nil {
		return nil, err
	}

	// Extraction degrades internally; a hard error here means a broken
	// methodology reference and fails the turn.
	extracted, err := s.extractor.Extract(ctx, session.Methodology, lastSystemText(conversation), userText)
	if err != nil {
		return nil, err
	}

	newNodes, newEdges, createdCount, err := s.materialize(ctx, session, schema, extracted, utterance.ID)
	if err != nil {
		return nil, err
	}

	// Canonicalization is best-effort: a failed discovery call never loses
	// the turn, the nodes stay unmapped until a later turn.
	if s.slots != nil {
		if len(newNodes) > 0 {
			if err := s.slots.DiscoverSlots(ctx, sessionID, turnNumber, newNodes); err != nil {
				s.logger.Warn("slot discovery failed", "session_id", sessionID, "error", err)
			}
		}
		if len(newEdges) > 0 {
			if err := s.slots.AggregateEdges(ctx, sessionID, newEdges); err != nil {
				s.logger.Warn("canonical edge aggregation failed", "session_id", sessionID, "error", err)
			}
		}
	}

	state, nodes, edges, err := s.computeState(ctx, session, concept)
	if err != nil {
		return nil, err
	}

	var signalSet *signals.Set
	if s.signalizer != nil {
		signalSet = s.signalizer.Extract(ctx, turnNumber, conversation)
	}

	sctx := &scoring.Context{
		SessionID:              sessionID,
		State:                  state,
		Nodes:                  nodes,
		Edges:                  edges,
		Conversation:           conversation,
		Signals:                signalSet,
		Concept:                concept,
		Methodology:            schema,
		NewNodesThisTurn:       createdCount,
		PrevConsecutiveLowInfo: session.ConsecutiveLowInfo,
	}

	turnCount := session.TurnCount + 1
	state.TurnCount = turnCount
	limitReached := turnCount >= session.MaxTurns

	strategies := s.strategySvc()
	var selection *strategy.Selection
	if limitReached {
		selection, err = strategies.ForceClosing(sctx)
	} else {
		selection, err = strategies.Select(sctx)
	}
	if err != nil {
		return nil, err
	}
	if err := s.graphStore.SaveScoringTrace(ctx, sessionID, turnNumber, selection.Traces, selection.Winner.StrategyID); err != nil {
		return nil, err
	}

	shouldContinue := selection.Winner.StrategyID != "closing" && !limitReached

	// A question-generation failure fails the turn before the system
	// utterance is persisted; the next turn resumes from the user's input.
	nextQuestion, err := s.questions.GenerateFollowUp(ctx, &question.FollowUpRequest{
		Focus:       selection.Winner.Focus,
		Strategy:    selection.Strategy,
		Topic:       s.topicFor(session),
		Utterances:  conversation,
		State:       state,
		RecentNodes: state.RecentNodes,
		Signals:     signalSet,
		Methodology: schema,
	})
	if err != nil {
		return nil, err
	}

	systemTurn, err := s.graphStore.NextTurnNumber(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.graphStore.SaveUtterance(ctx, sessionID, systemTurn, graph.SpeakerSystem, nextQuestion); err != nil {
		return nil, err
	}

	session.TurnCount = turnCount
	if scoring.MatchesRepetitionPattern(nextQuestion) {
		session.RepetitionCount++
	} else {
		session.RepetitionCount = 0
	}
	if state.Saturation != nil {
		session.ConsecutiveLowInfo = state.Saturation.ConsecutiveLowInfo
	} else if createdCount == 0 {
		session.ConsecutiveLowInfo++
	} else {
		session.ConsecutiveLowInfo = 0
	}
	if !shouldContinue {
		session.Status = StatusClosed
	}
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:        sessionID,
		TurnNumber:       turnNumber,
		Question:         nextQuestion,
		ShouldContinue:   shouldContinue,
		SelectedStrategy: selection.Winner.StrategyID,
		Phase:            selection.Phase,
		Extraction:       extracted,
		NewNodes:         newNodes,
		NewEdges:         newEdges,
		State:            state,
		Signals:          signalSet,
		Alternatives:     selection.Alternatives,
		LatencyMS:        time.Since(start).Milliseconds(),
	}, nil
}

// materialize turns extraction output into surface nodes and edges. Nodes
// dedupe on (label, node_type); edges are idempotent in the store. A revises
// relationship additionally supersedes its target.
func (s *Service) materialize(ctx context.Context, session *Session, schema *methodology.Schema, extracted *extraction.Result, utteranceID string) ([]*graph.Node, []*graph.Edge, int, error) {
	if extracted == nil || !extracted.IsExtractable {
		return nil, nil, 0, nil
	}

	active, err := s.graphStore.GetActiveNodes(ctx, session.ID)
	if err != nil {
		return nil, nil, 0, err
	}
	nodeKey := func(label, nodeType string) string {
		return nodeType + "\x00" + strings.ToLower(label)
	}
	byKey := make(map[string]*graph.Node, len(active))
	// Relationship endpoints arrive as bare labels; this turn's concepts
	// take precedence over older nodes carrying the same label.
	byLabel := make(map[string]*graph.Node, len(active))
	for _, n := range active {
		byKey[nodeKey(n.Label, n.NodeType)] = n
		if _, ok := byLabel[strings.ToLower(n.Label)]; !ok {
			byLabel[strings.ToLower(n.Label)] = n
		}
	}

	var touched []*graph.Node
	created := 0
	for _, c := range extracted.Concepts {
		key := nodeKey(c.Text, c.NodeType)
		if existing, ok := byKey[key]; ok {
			if err := s.graphStore.AddNodeSource(ctx, existing.ID, utteranceID); err != nil {
				return nil, nil, 0, err
			}
			byLabel[strings.ToLower(c.Text)] = existing
			touched = append(touched, existing)
			continue
		}
		node, err := s.graphStore.CreateNode(ctx, graph.CreateNodeRequest{
			SessionID:          session.ID,
			Methodology:        session.Methodology,
			Label:              c.Text,
			NodeType:           c.NodeType,
			Confidence:         c.Confidence,
			SourceUtteranceIDs: []string{utteranceID},
		})
		if err != nil {
			return nil, nil, 0, err
		}
		byKey[key] = node
		byLabel[strings.ToLower(c.Text)] = node
		touched = append(touched, node)
		created++
	}

	var newEdges []*graph.Edge
	for _, r := range extracted.Relationships {
		src, srcOK := byLabel[strings.ToLower(r.SourceText)]
		dst, dstOK := byLabel[strings.ToLower(r.TargetText)]
		if !srcOK || !dstOK {
			continue
		}
		edge, err := s.graphStore.CreateEdge(ctx, graph.CreateEdgeRequest{
			SessionID:          session.ID,
			Methodology:        session.Methodology,
			SourceNodeID:       src.ID,
			TargetNodeID:       dst.ID,
			EdgeType:           r.RelationshipType,
			Confidence:         r.Confidence,
			SourceUtteranceIDs: []string{utteranceID},
		})
		if err != nil {
			// Inadmissible at materialization time (e.g. the endpoint was
			// superseded earlier this turn): skip, keep the turn alive.
			s.logger.Warn("edge materialization skipped",
				"session_id", session.ID, "edge_type", r.RelationshipType, "error", err)
			continue
		}
		newEdges = append(newEdges, edge)

		if schema.Ontology.RevisionEdge != "" && r.RelationshipType == schema.Ontology.RevisionEdge {
			// Source revises target: the old belief leaves the active graph.
			if err := s.graphStore.SupersedeNode(ctx, dst.ID, src.ID); err != nil {
				return nil, nil, 0, err
			}
		}
	}
	return touched, newEdges, created, nil
}

// computeState rebuilds the derived graph state from the persisted surface
// and canonical graphs.
func (s *Service) computeState(ctx context.Context, session *Session, concept *methodology.Concept) (*graph.GraphState, []*graph.Node, []*graph.Edge, error) {
	nodes, err := s.graphStore.GetActiveNodes(ctx, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	edges, err := s.graphStore.GetActiveEdges(ctx, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	coverageConcept := concept
	if session.Mode == ModeGraphDriven {
		coverageConcept = nil
	}
	state := graph.ComputeStructuralState(nodes, edges, coverageConcept, s.cfg.DepthTarget)
	state.InterviewMode = session.Mode
	state.RepetitionCount = session.RepetitionCount

	history, err := s.graphStore.GetWinnerHistory(ctx, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	state.StrategyHistory = history

	if recent, err := s.graphStore.GetRecentNodes(ctx, session.ID, 5); err == nil {
		state.RecentNodes = recent
	}

	if s.canonStore != nil {
		canonState, err := s.canonStore.ComputeState(ctx, session.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		state.Canonical = canonState.Summary()
	}
	return state, nodes, edges, nil
}

// Close ends a session without a final turn.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == StatusClosed {
		return nil
	}
	session.Status = StatusClosed
	return s.sessions.UpdateSession(ctx, session)
}

// Delete removes the session and everything derived from it.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.graphStore.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if s.canonStore != nil {
		if err := s.canonStore.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// Session loads one session record.
func (s *Service) Session(ctx context.Context, sessionID string) (*Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// List returns all sessions.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.sessions.ListSessions(ctx)
}

// Graph returns the active surface graph of a session.
func (s *Service) Graph(ctx context.Context, sessionID string) ([]*graph.Node, []*graph.Edge, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	nodes, err := s.graphStore.GetActiveNodes(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.graphStore.GetActiveEdges(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// CanonicalGraph returns the session's canonical slots and edges.
func (s *Service) CanonicalGraph(ctx context.Context, sessionID string) ([]*canonical.Slot, []*canonical.Edge, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	if s.canonStore == nil {
		return nil, nil, nil
	}
	slots, err := s.canonStore.GetSlots(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.canonStore.GetEdges(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return slots, edges, nil
}

// ScoringForTurn returns the persisted scoring trace of one turn, or nil
// when the turn has none.
func (s *Service) ScoringForTurn(ctx context.Context, sessionID string, turnNumber int) (*graph.ScoringTurn, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.graphStore.GetScoringForTurn(ctx, sessionID, turnNumber)
}

// Utterances returns the full transcript of a session.
func (s *Service) Utterances(ctx context.Context, sessionID string) ([]*graph.Utterance, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.graphStore.GetUtterances(ctx, sessionID)
}

func (s *Service) conceptFor(session *Session) *methodology.Concept {
	if s.concepts == nil || session.ConceptID == "" {
		return nil
	}
	return s.concepts.Lookup(session.ConceptID)
}

func (s *Service) topicFor(session *Session) string {
	if concept := s.conceptFor(session); concept != nil && concept.Name != "" {
		return concept.Name
	}
	return session.ConceptID
}

// lastSystemText returns the most recent system question, used as the
// interviewer context for extraction.
func lastSystemText(conversation []*graph.Utterance) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Speaker == graph.SpeakerSystem {
			return conversation[i].Text
		}
	}
	return ""
}
