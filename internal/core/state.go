package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle of a recommendation workflow. Transitions
// are monotonic in the order declared below, except that Cancelled and
// Failed may be entered from any non-terminal state.
type WorkflowStatus string

const (
	StatusPending                   WorkflowStatus = "pending"
	StatusGatheringSeeds            WorkflowStatus = "gathering_seeds"
	StatusGeneratingRecommendations WorkflowStatus = "generating_recommendations"
	StatusEvaluatingQuality         WorkflowStatus = "evaluating_quality"
	StatusOptimizingRecommendations WorkflowStatus = "optimizing_recommendations"
	StatusRecommendationsReady      WorkflowStatus = "recommendations_ready"
	StatusCancelled                 WorkflowStatus = "cancelled"
	StatusFailed                    WorkflowStatus = "failed"
)

var statusRank = map[WorkflowStatus]int{
	StatusPending:                   0,
	StatusGatheringSeeds:            1,
	StatusGeneratingRecommendations: 2,
	StatusEvaluatingQuality:         3,
	StatusOptimizingRecommendations: 4,
	StatusRecommendationsReady:      5,
}

// Terminal reports whether no further transition is allowed.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusRecommendationsReady || s == StatusCancelled || s == StatusFailed
}

// WorkflowState is the single in-memory document a workflow mutates as it
// moves through the pipeline. It is owned by exactly one goroutine; readers
// get deep copies through Clone.
//
// The quality loop revisits evaluating_quality and optimizing_recommendations,
// so ranks 3 and 4 may alternate; the state never moves backwards past the
// generation stage.
type WorkflowState struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id,omitempty"`
	MoodPrompt   string         `json:"mood_prompt"`
	Status       WorkflowStatus `json:"status"`
	CurrentStep  string         `json:"current_step,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	Intent       *IntentAnalysis `json:"intent,omitempty"`
	MoodAnalysis *MoodAnalysis   `json:"mood_analysis,omitempty"`
	Target       *PlaylistTarget `json:"playlist_target,omitempty"`

	SeedTracks    []string `json:"seed_tracks,omitempty"`
	NegativeSeeds []string `json:"negative_seeds,omitempty"`

	Recommendations []TrackRecommendation `json:"recommendations,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates a pending state for a session.
func NewWorkflowState(sessionID, userID, moodPrompt string) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		SessionID:  sessionID,
		UserID:     userID,
		MoodPrompt: moodPrompt,
		Status:     StatusPending,
		Metadata:   make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SetStatus transitions the workflow status. Forward transitions within the
// pipeline are always allowed, as are Cancelled and Failed from any
// non-terminal state. The quality loop may alternate between evaluation and
// optimization. Any other transition is a programming error.
func (s *WorkflowState) SetStatus(next WorkflowStatus) error {
	if s.Status == next {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("status %s is terminal, cannot move to %s", s.Status, next)
	}
	if next == StatusCancelled || next == StatusFailed {
		s.Status = next
		s.touch()
		return nil
	}

	cur, curOK := statusRank[s.Status]
	nxt, nxtOK := statusRank[next]
	if !curOK || !nxtOK {
		return fmt.Errorf("unknown status transition %s -> %s", s.Status, next)
	}

	loop := s.Status == StatusOptimizingRecommendations && next == StatusEvaluatingQuality
	if nxt < cur && !loop {
		return fmt.Errorf("status cannot move backwards: %s -> %s", s.Status, next)
	}

	s.Status = next
	s.touch()
	return nil
}

// Fail marks the workflow failed with a message.
func (s *WorkflowState) Fail(msg string) {
	if s.Status.Terminal() {
		return
	}
	s.Status = StatusFailed
	s.ErrorMessage = msg
	s.touch()
}

func (s *WorkflowState) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// SetMeta records a metadata entry and bumps updated_at.
func (s *WorkflowState) SetMeta(key string, value any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = value
	s.touch()
}

// AppendMeta appends to a metadata history list such as quality_scores or
// improvement_actions.
func (s *WorkflowState) AppendMeta(key string, value any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	list, _ := s.Metadata[key].([]any)
	s.Metadata[key] = append(list, value)
	s.touch()
}

// MetaList returns a metadata history list, or nil.
func (s *WorkflowState) MetaList(key string) []any {
	list, _ := s.Metadata[key].([]any)
	return list
}

// HasRecommendation reports whether a track ID is already in the pool.
func (s *WorkflowState) HasRecommendation(trackID string) bool {
	for i := range s.Recommendations {
		if s.Recommendations[i].TrackID == trackID {
			return true
		}
	}
	return false
}

// ProtectedIDs returns the set of track IDs that filters must never remove
// and that may never become negative seeds.
func (s *WorkflowState) ProtectedIDs() map[string]bool {
	out := make(map[string]bool)
	for i := range s.Recommendations {
		r := &s.Recommendations[i]
		if r.Protected || r.UserMentioned {
			out[r.TrackID] = true
		}
	}
	return out
}

// AddNegativeSeed records a track to steer the similarity engine away from.
// Protected tracks and duplicates are ignored; the set is capped.
func (s *WorkflowState) AddNegativeSeed(trackID string, limit int) {
	if trackID == "" {
		return
	}
	if s.ProtectedIDs()[trackID] {
		return
	}
	for _, id := range s.NegativeSeeds {
		if id == trackID {
			return
		}
	}
	if len(s.NegativeSeeds) >= limit {
		return
	}
	s.NegativeSeeds = append(s.NegativeSeeds, trackID)
}

// Clone returns a deep copy safe to hand to other goroutines. The JSON
// round-trip keeps it honest as the state grows new fields.
func (s *WorkflowState) Clone() *WorkflowState {
	raw, err := json.Marshal(s)
	if err != nil {
		// State is always JSON-serializable; treat failure as a bug.
		panic(fmt.Sprintf("workflow state not serializable: %v", err))
	}
	var out WorkflowState
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("workflow state not round-trippable: %v", err))
	}
	return &out
}
