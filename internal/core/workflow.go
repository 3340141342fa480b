package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the public entry point: it starts workflows, publishes their
// state and cancels them. Each workflow's state is owned by one goroutine;
// readers only ever see clones published between stages.
type Service struct {
	intents  *IntentAnalyzer
	moods    *MoodAnalyzer
	pipeline *Orchestrator
	quota    Quota
	metrics  MetricsSink
	config   *Config
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
	closed   bool
}

type session struct {
	mu        sync.RWMutex
	published *WorkflowState
	cancel    context.CancelFunc
}

// ServiceDeps bundles the ports the service wires into its pipeline.
type ServiceDeps struct {
	Catalog    CatalogClient
	Similarity SimilarityClient
	LLM        LLMProvider
	Gate       TopTracksGate
	Quota      Quota
	Snapshots  SnapshotStore
	History    HistoryStore
	Metrics    MetricsSink
}

func NewService(deps ServiceDeps, config *Config, logger *zap.Logger) *Service {
	s := &Service{
		quota:    deps.Quota,
		metrics:  deps.Metrics,
		config:   config,
		logger:   logger.Named("service"),
		sessions: make(map[string]*session),
	}

	pipeCfg := &config.Pipeline
	s.intents = NewIntentAnalyzer(deps.LLM, &config.LLM, logger.Named("intent"))
	s.moods = NewMoodAnalyzer(deps.LLM, &config.LLM, pipeCfg, logger.Named("mood"))

	gatherer := NewSeedGatherer(deps.Catalog, deps.Gate, deps.LLM, &config.LLM, pipeCfg, config.Spotify.Market, logger.Named("seeds"))
	generator := NewRecommendationGenerator(deps.Catalog, deps.Similarity, deps.Gate, deps.History, pipeCfg, config.Spotify.Market, logger.Named("generator"))
	evaluator := NewQualityEvaluator(deps.LLM, &config.LLM, pipeCfg, logger.Named("evaluator"))
	strategy := NewImprovementStrategy(deps.LLM, &config.LLM, pipeCfg, generator, logger.Named("strategy"))
	orderer := NewPlaylistOrderer(deps.LLM, &config.LLM, pipeCfg, logger.Named("orderer"))

	// The service sits between the orchestrator and the snapshot store so
	// every persisted snapshot also refreshes the published clone.
	s.pipeline = NewOrchestrator(gatherer, generator, evaluator, strategy, orderer,
		deps.Catalog, &publishingStore{inner: deps.Snapshots, svc: s}, deps.History, deps.Metrics, pipeCfg, logger.Named("orchestrator"))
	return s
}

// StartWorkflow begins a workflow for the prompt and returns its session ID.
// Processing continues in the background; progress is visible through
// GetWorkflowState.
func (s *Service) StartWorkflow(ctx context.Context, userID, moodPrompt string) (string, error) {
	if moodPrompt == "" {
		return "", WrapError(KindFatal, "start", fmt.Errorf("empty mood prompt"))
	}
	if s.quota != nil && !s.quota.Allow(userID) {
		return "", WrapError(KindFatal, "start", fmt.Errorf("daily quota exhausted for user %q", userID))
	}

	sessionID := uuid.NewString()
	state := NewWorkflowState(sessionID, userID, moodPrompt)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sess := &session{published: state.Clone(), cancel: cancel}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", WrapError(KindFatal, "start", fmt.Errorf("service is shutting down"))
	}
	s.sessions[sessionID] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, state, sess)

	s.logger.Info("workflow started",
		zap.String("session", sessionID),
		zap.String("user", userID))
	return sessionID, nil
}

func (s *Service) run(ctx context.Context, state *WorkflowState, sess *session) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("workflow panicked",
				zap.String("session", state.SessionID),
				zap.Any("panic", r))
			state.Fail(fmt.Sprintf("internal error: %v", r))
			s.publish(sess, state)
		}
	}()

	if s.metrics != nil {
		s.metrics.RecordActiveWorkflows(1)
		defer s.metrics.RecordActiveWorkflows(-1)
	}

	state.Intent = s.intents.Analyze(ctx, state.MoodPrompt)
	mood, target := s.moods.Analyze(ctx, state.MoodPrompt, state.Intent)
	state.MoodAnalysis = mood
	state.Target = target
	s.publish(sess, state)

	if err := s.pipeline.Run(ctx, state); err != nil {
		switch KindOf(err) {
		case KindCancelled:
			_ = state.SetStatus(StatusCancelled)
			s.logger.Info("workflow cancelled", zap.String("session", state.SessionID))
			if s.metrics != nil {
				s.metrics.RecordWorkflow("cancelled")
			}
		default:
			state.Fail(err.Error())
			s.logger.Error("workflow failed",
				zap.String("session", state.SessionID),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.RecordWorkflow("failed")
				s.metrics.RecordError(StageOf(err), KindOf(err).String())
			}
		}
	} else if s.metrics != nil {
		s.metrics.RecordWorkflow("completed")
		s.metrics.RecordPlaylistSize(len(state.Recommendations))
	}
	s.publish(sess, state)
}

// GetWorkflowState returns a copy of the workflow's last published state.
func (s *Service) GetWorkflowState(sessionID string) (*WorkflowState, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.published.Clone(), nil
}

// Cancel requests cancellation of a running workflow. Idempotent; cancelling
// a finished workflow is a no-op.
func (s *Service) Cancel(sessionID string) error {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	sess.cancel()
	return nil
}

// Shutdown stops accepting workflows and waits for running ones to finish,
// bounded by the context.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown budget exceeded: %w", ctx.Err())
	}
}

func (s *Service) publish(sess *session, state *WorkflowState) {
	clone := state.Clone()
	sess.mu.Lock()
	sess.published = clone
	sess.mu.Unlock()
}

// publishingStore refreshes the published clone on every snapshot save.
type publishingStore struct {
	inner SnapshotStore
	svc   *Service
}

func (p *publishingStore) Save(ctx context.Context, state *WorkflowState) error {
	p.svc.mu.RLock()
	sess, ok := p.svc.sessions[state.SessionID]
	p.svc.mu.RUnlock()
	if ok {
		p.svc.publish(sess, state)
	}
	if p.inner == nil {
		return nil
	}
	return p.inner.Save(ctx, state)
}

func (p *publishingStore) Load(ctx context.Context, sessionID string) (*WorkflowState, error) {
	if p.inner == nil {
		return nil, fmt.Errorf("no snapshot store configured")
	}
	return p.inner.Load(ctx, sessionID)
}
