package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

// hedgeLexicon is the fixed set of hedging phrases the style metrics check
// for, covering both English and Korean.
var hedgeLexicon = []string{
	"might", "maybe", "perhaps", "possibly", "i think", "i believe",
	"it seems", "it seems like", "it could be", "not sure", "i guess",
	"아마", "혹시", "것 같다", "같아요", "듯하다", "아마도",
}

var sentenceSplitPattern = regexp.MustCompile(`[.!?。]+`)

// StyleMetrics holds the two pure style features computed per assistant
// turn.
type StyleMetrics struct {
	HedgeRatio     float64
	AvgSentenceLen float64
}

// ComputeStyleMetrics is a pure function of the response text. Responses
// shorter than 10 characters return the zero value.
func ComputeStyleMetrics(response string) StyleMetrics {
	if len(strings.TrimSpace(response)) < 10 {
		return StyleMetrics{}
	}

	sentences := splitNonEmptySentences(response)
	if len(sentences) == 0 {
		return StyleMetrics{}
	}

	hedged := 0
	for _, s := range sentences {
		if containsHedge(s) {
			hedged++
		}
	}

	hedgeRatio := float64(hedged) / float64(len(sentences))
	avgSentenceLen := roundTo1(float64(len(response)) / float64(len(sentences)))

	return StyleMetrics{HedgeRatio: hedgeRatio, AvgSentenceLen: avgSentenceLen}
}

func splitNonEmptySentences(text string) []string {
	parts := sentenceSplitPattern.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsHedge(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, phrase := range hedgeLexicon {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func roundTo1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// InteractionLogger records one observability row per assistant turn.
type InteractionLogger struct {
	conn *storage.ConnectionManager
}

// NewInteractionLogger creates a logger over conn.
func NewInteractionLogger(conn *storage.ConnectionManager) *InteractionLogger {
	return &InteractionLogger{conn: conn}
}

// LogInput is the data required to write one interaction_logs row.
type LogInput struct {
	ConversationID  string
	TurnID          int
	EffectiveModel  string
	Tier            string
	RouterReason    string
	ManualOverride  bool
	LatencyMS       int64
	TTFTMS          int64
	TokensIn        int
	TokensOut       int
	ToolCalls       []string
	RoutingFeatures map[string]any
	RefusalDetected bool
	Response        string
}

// Log writes one interaction_logs row, computing style metrics from the
// response text and serializing ToolCalls/RoutingFeatures to the
// tool_calls_json/routing_features_json columns.
func (l *InteractionLogger) Log(ctx context.Context, in LogInput) error {
	metrics := ComputeStyleMetrics(in.Response)

	toolCallsJSON, err := marshalJSONOrEmpty(in.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	routingFeaturesJSON, err := marshalJSONOrEmpty(in.RoutingFeatures)
	if err != nil {
		return fmt.Errorf("marshal routing features: %w", err)
	}

	row := storage.InteractionLogModel{
		ConversationID:  in.ConversationID,
		TurnID:          in.TurnID,
		EffectiveModel:  in.EffectiveModel,
		Tier:            in.Tier,
		RouterReason:    in.RouterReason,
		RoutingFeatures: routingFeaturesJSON,
		ManualOverride:  in.ManualOverride,
		LatencyMS:       in.LatencyMS,
		TTFTMS:          in.TTFTMS,
		TokensIn:        in.TokensIn,
		TokensOut:       in.TokensOut,
		ToolCalls:       toolCallsJSON,
		RefusalDetected: in.RefusalDetected,
		ResponseChars:   len(in.Response),
		HedgeRatio:      metrics.HedgeRatio,
		AvgSentenceLen:  metrics.AvgSentenceLen,
	}
	if err := l.conn.GetConnection().WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("write interaction log: %w", err)
	}
	return nil
}

// marshalJSONOrEmpty returns "" for a nil/empty slice or map, otherwise
// the value's JSON encoding, so an unused column stays empty rather than
// storing "null" or "[]".
func marshalJSONOrEmpty(v any) (string, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return "", nil
		}
	case map[string]any:
		if len(val) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
