package types

import "time"

// CognitiveSession represents one continuous client↔host connection's worth
// of captured events. Exactly one session is active per transport connection;
// the correlator updates the aggregate counters after every event commit.
type CognitiveSession struct {
	ID        string        `json:"session_id"`
	StartedNS int64         `json:"started_ns"`
	EndedNS   int64         `json:"ended_ns,omitempty"` // Zero while active
	Platform  string        `json:"platform"`
	Status    SessionStatus `json:"status"`

	// Aggregates, monotonically non-decreasing while the session is active.
	EventCount int `json:"event_count"`
	TurnCount  int `json:"turn_count"`

	Topics       []string               `json:"topics,omitempty"`  // Union of observed topic labels
	Summary      string                 `json:"summary,omitempty"` // Rolling summary text
	QualityScore float64                `json:"quality_score,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the session is still receiving events.
func (s *CognitiveSession) Active() bool {
	return s.Status == SessionActive
}
