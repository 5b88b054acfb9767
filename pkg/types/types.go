// Package types defines the core data structures for the UCW cognitive
// capture system: events, sessions, coherence moments, and the embedding
// cache entries shared between the capture and query sides.
package types

// Direction indicates which way a captured frame was travelling.
type Direction string

const (
	// DirectionInbound is a frame travelling client → host.
	DirectionInbound Direction = "inbound"

	// DirectionOutbound is a frame travelling host → client.
	DirectionOutbound Direction = "outbound"
)

// Stage classifies a frame by its JSON-RPC role.
type Stage string

const (
	// StageRequest is a message carrying both method and id.
	StageRequest Stage = "request"

	// StageResponse is a message carrying an id with a result or error.
	StageResponse Stage = "response"

	// StageNotification is a message carrying a method but no id.
	StageNotification Stage = "notification"
)

// EventStatus represents the overall enrichment state of a captured event.
type EventStatus string

const (
	// StatusRaw indicates only the capture-time fields are populated.
	StatusRaw EventStatus = "raw"

	// StatusPending indicates the event is queued for enrichment.
	StatusPending EventStatus = "pending"

	// StatusEnriched indicates all three layers and the embedding are present.
	StatusEnriched EventStatus = "enriched"

	// StatusPartial indicates some enrichment step failed or was skipped;
	// the layers that succeeded are persisted, the rest are absent.
	StatusPartial EventStatus = "partial"
)

// EnrichmentStatus represents the status of one enrichment step.
type EnrichmentStatus string

const (
	// EnrichmentPending indicates the step is queued.
	EnrichmentPending EnrichmentStatus = "pending"

	// EnrichmentCompleted indicates the step completed successfully.
	EnrichmentCompleted EnrichmentStatus = "completed"

	// EnrichmentFailed indicates the step failed.
	EnrichmentFailed EnrichmentStatus = "failed"

	// EnrichmentSkipped indicates the step was skipped (queue full, shutdown).
	EnrichmentSkipped EnrichmentStatus = "skipped"
)

// GutSignal is the coarse three-level significance classification.
type GutSignal string

const (
	// SignalRoutine marks an event with no emergence indicators.
	SignalRoutine GutSignal = "routine"

	// SignalInteresting marks an event with at least one indicator.
	SignalInteresting GutSignal = "interesting"

	// SignalBreakthrough marks an event with two or more indicators.
	SignalBreakthrough GutSignal = "breakthrough_potential"
)

// SessionStatus represents the lifecycle state of a capture session.
type SessionStatus string

const (
	// SessionActive indicates the transport connection is still open.
	SessionActive SessionStatus = "active"

	// SessionClosed indicates the connection ended and the session was finalized.
	SessionClosed SessionStatus = "closed"
)

// Intent labels assigned by the light layer. The classifier picks exactly one.
const (
	IntentSearch   = "search"
	IntentCreate   = "create"
	IntentAnalyze  = "analyze"
	IntentRetrieve = "retrieve"
	IntentExecute  = "execute"
	IntentUnknown  = "unknown"
)

// Topic labels assigned by the light layer. Zero or more may apply.
const (
	TopicMCPProtocol = "mcp_protocol"
	TopicDatabase    = "database"
	TopicUCW         = "ucw"
	TopicAIAgents    = "ai_agents"
	TopicResearch    = "research"
	TopicCoding      = "coding"
)

// Emergence indicator tags attached by the instinct layer.
const (
	IndicatorHighCoherence  = "high_coherence_potential"
	IndicatorConceptCluster = "concept_cluster"
	IndicatorMetaCognitive  = "meta_cognitive"
)

// ValidGutSignals lists all gut signal values for validation.
var ValidGutSignals = []GutSignal{SignalRoutine, SignalInteresting, SignalBreakthrough}

// IsValidGutSignal reports whether s is a recognised gut signal.
func IsValidGutSignal(s GutSignal) bool {
	for _, v := range ValidGutSignals {
		if s == v {
			return true
		}
	}
	return false
}
