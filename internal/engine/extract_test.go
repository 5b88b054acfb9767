package engine

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/scrypster/ucw/pkg/types"
)

func eventWithRaw(raw string) *types.CognitiveEvent {
	return &types.CognitiveEvent{
		ID:       "evt-x",
		RawBytes: []byte(raw),
		Parsed:   []byte(raw),
	}
}

func TestExtractData_ToolCallTemplate(t *testing.T) {
	event := eventWithRaw(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"capture","arguments":{"q":"x"}}}`)
	event.Method = "tools/call"
	event.Stage = types.StageRequest

	data := ExtractData(event)
	if data.Method != "tools/call" {
		t.Errorf("Method = %q, want tools/call", data.Method)
	}
	if data.Content != `Tool call: capture | args={"q":"x"}` {
		t.Errorf("Content = %q, want the tool call template", data.Content)
	}
	if data.TokensEst != len(data.Content)/4 {
		t.Errorf("TokensEst = %d, want %d", data.TokensEst, len(data.Content)/4)
	}
	if len(data.ParamKeys) != 2 || data.ParamKeys[0] != "arguments" || data.ParamKeys[1] != "name" {
		t.Errorf("ParamKeys = %v, want sorted [arguments name]", data.ParamKeys)
	}
}

func TestExtractData_MethodTemplates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"list", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "List tools"},
		{"read", `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"file:///a.txt"}}`, "Read resource: file:///a.txt"},
		{"other", `{"jsonrpc":"2.0","id":3,"method":"ping"}`, "Method: ping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := eventWithRaw(tt.raw)
			event.Stage = types.StageRequest
			if got := ExtractData(event).Content; got != tt.want {
				t.Errorf("Content = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractData_ResponseContentBlocks(t *testing.T) {
	event := eventWithRaw(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}}`)
	event.Stage = types.StageResponse

	data := ExtractData(event)
	if data.Content != "first second" {
		t.Errorf("Content = %q, want joined text blocks", data.Content)
	}
	if data.ParamKeys != nil {
		t.Errorf("ParamKeys = %v, want nil for responses", data.ParamKeys)
	}
}

func TestExtractData_ErrorResponse(t *testing.T) {
	event := eventWithRaw(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	event.Stage = types.StageResponse

	data := ExtractData(event)
	if data.Content != "Error: method not found" {
		t.Errorf("Content = %q, want the error template", data.Content)
	}
	if data.TokensEst < 1 {
		t.Errorf("TokensEst = %d, want >= 1", data.TokensEst)
	}
}

func TestClassifyIntent_FirstMatchWins(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"search", "please search for the schema file", types.IntentSearch},
		{"search beats create", "find and create a report", types.IntentSearch},
		{"create", "create a new table", types.IntentCreate},
		{"analyze", "review the design and explain it", types.IntentAnalyze},
		{"retrieve", "list the sessions", types.IntentRetrieve},
		{"execute", "invoke the pipeline", types.IntentExecute},
		{"unknown", "hello there", types.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := &types.DataLayer{Content: tt.content}
			light := ExtractLight(data)
			if light.Intent != tt.want {
				t.Errorf("Intent = %q, want %q", light.Intent, tt.want)
			}
		})
	}
}

func TestExtractLight_TopicsAndConcepts(t *testing.T) {
	data := &types.DataLayer{Content: "analyze the mcp protocol schema stored in the database"}
	light := ExtractLight(data)

	wantTopics := map[string]bool{types.TopicMCPProtocol: true, types.TopicDatabase: true}
	for _, topic := range light.Topics {
		if !wantTopics[topic] {
			t.Errorf("unexpected topic %q", topic)
		}
		delete(wantTopics, topic)
	}
	for topic := range wantTopics {
		t.Errorf("missing topic %q", topic)
	}

	found := map[string]bool{}
	for _, c := range light.Concepts {
		found[c] = true
	}
	for _, want := range []string{"mcp", "database", "schema", "protocol"} {
		if !found[want] {
			t.Errorf("missing concept %q in %v", want, light.Concepts)
		}
	}
}

func TestExtractLight_SummaryTruncated(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	light := ExtractLight(&types.DataLayer{Content: string(long)})
	if len(light.Summary) != summaryLength {
		t.Errorf("Summary length = %d, want %d", len(light.Summary), summaryLength)
	}
}

func TestExtractLight_SummaryKeepsRunesWhole(t *testing.T) {
	// A rune sitting on the byte cut must be dropped whole, not split.
	content := strings.Repeat("a", summaryLength-1) + "é" + strings.Repeat("b", 50)
	light := ExtractLight(&types.DataLayer{Content: content})
	if !utf8.ValidString(light.Summary) {
		t.Errorf("Summary is not valid UTF-8: %q", light.Summary)
	}
	if len(light.Summary) != summaryLength-1 {
		t.Errorf("Summary length = %d, want %d", len(light.Summary), summaryLength-1)
	}
}

func TestExtractInstinct_Deterministic(t *testing.T) {
	data := &types.DataLayer{Content: "analyze coherence across the mcp capture sessions in the database"}
	light := ExtractLight(data)

	first := ExtractInstinct(data, light)
	second := ExtractInstinct(data, light)
	if first.CoherencePotential != second.CoherencePotential {
		t.Errorf("scoring not deterministic: %f vs %f", first.CoherencePotential, second.CoherencePotential)
	}
	if first.GutSignal != second.GutSignal {
		t.Errorf("gut signal not deterministic: %s vs %s", first.GutSignal, second.GutSignal)
	}
}

func TestExtractInstinct_Scoring(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
		gut     types.GutSignal
	}{
		{
			// No topics, no scoring intent, no concepts.
			name:    "routine",
			content: "hello there friend",
			want:    0,
			gut:     types.SignalRoutine,
		},
		{
			// Topic 0.35 + analyze 0.25 + concepts capped at 0.4 = 1.0;
			// meta term plus a high score yields two indicators.
			name:    "breakthrough",
			content: "analyze the coherence of semantic embedding capture across the mcp protocol session",
			want:    1.0,
			gut:     types.SignalBreakthrough,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := &types.DataLayer{Content: tt.content}
			light := ExtractLight(data)
			instinct := ExtractInstinct(data, light)
			if instinct.CoherencePotential != tt.want {
				t.Errorf("CoherencePotential = %f, want %f (topics=%v concepts=%v intent=%s)",
					instinct.CoherencePotential, tt.want, light.Topics, light.Concepts, light.Intent)
			}
			if instinct.GutSignal != tt.gut {
				t.Errorf("GutSignal = %s, want %s (indicators=%v)", instinct.GutSignal, tt.gut, instinct.EmergenceIndicators)
			}
		})
	}
}

func TestCoherenceSignature_BucketsAndDeterminism(t *testing.T) {
	light := &types.LightLayer{Intent: types.IntentAnalyze, Topics: []string{types.TopicDatabase}}
	content := "analyze the schema"

	// Bucket boundaries are absolute, so anchor base to a bucket start.
	base := (int64(1_000_000_000_000_000_000) / signatureBucket.Nanoseconds()) * signatureBucket.Nanoseconds()
	sameBucket := base + (4 * 60 * 1_000_000_000)
	nextBucket := base + (6 * 60 * 1_000_000_000)

	a := CoherenceSignature(base, light, content)
	b := CoherenceSignature(sameBucket, light, content)
	c := CoherenceSignature(nextBucket, light, content)

	if a != b {
		t.Error("signatures within one bucket should match")
	}
	if a == c {
		t.Error("signatures across buckets should differ")
	}
	if a != CoherenceSignature(base, light, content) {
		t.Error("signature not deterministic")
	}
}
