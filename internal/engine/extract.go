package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/ucw/pkg/types"
)

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// Extraction is rule-driven and fully deterministic: the same frame always
// yields the same layers. Rules are ordered lists so first-match-wins
// classification stays stable as vocabularies grow.

// intentRule maps a set of trigger keywords to an intent label.
type intentRule struct {
	intent   string
	keywords []string
}

// intentRules are evaluated in order; the first rule with any keyword hit
// wins.
var intentRules = []intentRule{
	{types.IntentSearch, []string{"search", "find", "look", "where"}},
	{types.IntentCreate, []string{"create", "build", "write", "make", "generate"}},
	{types.IntentAnalyze, []string{"analyze", "review", "check", "explain", "why"}},
	{types.IntentRetrieve, []string{"get", "read", "list", "show", "fetch"}},
	{types.IntentExecute, []string{"call", "run", "execute", "invoke"}},
}

// topicRule maps trigger keywords to a topic label. Unlike intents, every
// matching topic is attached.
type topicRule struct {
	topic    string
	keywords []string
}

var topicRules = []topicRule{
	{types.TopicMCPProtocol, []string{"mcp", "tool", "protocol", "jsonrpc", "server"}},
	{types.TopicDatabase, []string{"database", "sql", "sqlite", "postgres", "schema", "query", "table"}},
	{types.TopicUCW, []string{"ucw", "coherence", "sovereign", "unified", "cognitive"}},
	{types.TopicAIAgents, []string{"agent", "claude", "llm", "model", "assistant"}},
	{types.TopicResearch, []string{"research", "paper", "study", "experiment", "hypothesis"}},
	{types.TopicCoding, []string{"code", "function", "bug", "implement", "refactor", "test"}},
}

// conceptTargets are the salient terms worth tracking across events. A term
// is counted once no matter how often it appears.
var conceptTargets = []string{
	"mcp", "ucw", "database", "schema", "coherence", "protocol",
	"cognitive", "semantic", "embedding", "sovereign", "platform",
	"research", "session", "capture", "agent", "orchestrat",
}

// metaCognitiveTerms trigger the meta_cognitive emergence indicator:
// conversation about thinking and coherence itself.
var metaCognitiveTerms = []string{
	"coherence", "cognitive", "emergence", "unify", "sovereign",
}

const (
	summaryLength     = 200
	maxConcepts       = 8
	highPotentialBar  = 0.7
	conceptClusterBar = 3
)

// ExtractData derives the structural layer from a captured event.
func ExtractData(event *types.CognitiveEvent) *types.DataLayer {
	content := renderContent(event)
	tokens := len(content) / 4
	if tokens < 1 {
		tokens = 1
	}
	return &types.DataLayer{
		Method:    event.Method,
		Content:   content,
		TokensEst: tokens,
		ParamKeys: paramKeys(event.Parsed),
	}
}

// ExtractLight derives intent, topics, concepts, and a summary from the
// data layer's content.
func ExtractLight(data *types.DataLayer) *types.LightLayer {
	lower := strings.ToLower(data.Content)

	light := &types.LightLayer{
		Intent: classifyIntent(lower),
		Topics: classifyTopics(lower),
	}

	for _, target := range conceptTargets {
		if strings.Contains(lower, target) {
			light.Concepts = append(light.Concepts, target)
			if len(light.Concepts) >= maxConcepts {
				break
			}
		}
	}

	light.Summary = truncate(strings.TrimSpace(data.Content), summaryLength)

	return light
}

// ExtractInstinct scores the event's coherence potential and derives the
// emergence indicators and gut signal. Scoring is additive with fixed
// weights, clamped to [0,1]:
//
//	+0.35 for any recognized topic
//	+0.25 for a create, analyze, or search intent
//	+0.10 per concept, capped at 0.40
func ExtractInstinct(data *types.DataLayer, light *types.LightLayer) *types.InstinctLayer {
	potential := 0.0

	if len(light.Topics) > 0 {
		potential += 0.35
	}
	switch light.Intent {
	case types.IntentCreate, types.IntentAnalyze, types.IntentSearch:
		potential += 0.25
	}
	conceptBoost := 0.1 * float64(len(light.Concepts))
	if conceptBoost > 0.4 {
		conceptBoost = 0.4
	}
	potential += conceptBoost
	if potential > 1.0 {
		potential = 1.0
	}

	instinct := &types.InstinctLayer{CoherencePotential: potential}

	if potential > highPotentialBar {
		instinct.EmergenceIndicators = append(instinct.EmergenceIndicators, types.IndicatorHighCoherence)
	}
	if len(light.Concepts) >= conceptClusterBar {
		instinct.EmergenceIndicators = append(instinct.EmergenceIndicators, types.IndicatorConceptCluster)
	}
	lower := strings.ToLower(data.Content)
	for _, term := range metaCognitiveTerms {
		if strings.Contains(lower, term) {
			instinct.EmergenceIndicators = append(instinct.EmergenceIndicators, types.IndicatorMetaCognitive)
			break
		}
	}

	switch {
	case len(instinct.EmergenceIndicators) >= 2:
		instinct.GutSignal = types.SignalBreakthrough
	case len(instinct.EmergenceIndicators) >= 1:
		instinct.GutSignal = types.SignalInteresting
	default:
		instinct.GutSignal = types.SignalRoutine
	}

	return instinct
}

func classifyIntent(lower string) string {
	for _, rule := range intentRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.intent
			}
		}
	}
	return types.IntentUnknown
}

func classifyTopics(lower string) []string {
	var topics []string
	for _, rule := range topicRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				topics = append(topics, rule.topic)
				break
			}
		}
	}
	return topics
}

const maxRenderedContent = 2000

// renderContent produces the text rendition of a frame that the keyword
// rules run against, using a template per method family for requests and
// pulling text content blocks out of responses.
func renderContent(event *types.CognitiveEvent) string {
	var frame struct {
		Method string `json:"method"`
		Params struct {
			Name      string          `json:"name"`
			URI       string          `json:"uri"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"params"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(event.Parsed) == 0 || json.Unmarshal(event.Parsed, &frame) != nil {
		return string(event.RawBytes)
	}

	if event.Stage == types.StageRequest || event.Stage == types.StageNotification {
		method := frame.Method
		switch {
		case method == "tools/call":
			return fmt.Sprintf("Tool call: %s | args=%s", frame.Params.Name, frame.Params.Arguments)
		case strings.HasSuffix(method, "/list"):
			return "List " + strings.SplitN(method, "/", 2)[0]
		case strings.HasSuffix(method, "/read"):
			return "Read resource: " + frame.Params.URI
		default:
			return "Method: " + method
		}
	}

	if frame.Error != nil {
		return "Error: " + frame.Error.Message
	}
	if text, ok := resultContentText(frame.Result); ok {
		return text
	}
	return truncate(string(frame.Result), maxRenderedContent)
}

// resultContentText joins the text fields of a result's content blocks,
// the shape tool-call responses carry. Each block contributes at most 500
// characters and the whole rendition is capped.
func resultContentText(result json.RawMessage) (string, bool) {
	if len(result) == 0 {
		return "", false
	}
	var shaped struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &shaped); err != nil || len(shaped.Content) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(shaped.Content))
	for _, block := range shaped.Content {
		parts = append(parts, truncate(block.Text, 500))
	}
	return truncate(strings.Join(parts, " "), maxRenderedContent), true
}

// paramKeys returns the sorted top-level parameter names of a request frame.
func paramKeys(parsed json.RawMessage) []string {
	if len(parsed) == 0 {
		return nil
	}
	var frame struct {
		Params map[string]json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(parsed, &frame); err != nil || len(frame.Params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(frame.Params))
	for key := range frame.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
