package sessionstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

func TestInteractionLogger_PersistsToolCallsAndRoutingFeatures(t *testing.T) {
	conn := newTestConnectionManager(t)
	logger := NewInteractionLogger(conn)

	in := LogInput{
		ConversationID:  "conv-1",
		TurnID:          0,
		EffectiveModel:  "gpt-test",
		Tier:            "fast",
		RouterReason:    "default",
		ToolCalls:       []string{"search", "calculator"},
		RoutingFeatures: map[string]any{"confidence": 0.82, "latency_hint": 120.0},
		Response:        "this is a long enough response to compute style metrics on",
	}
	if err := logger.Log(context.Background(), in); err != nil {
		t.Fatalf("Log: %v", err)
	}

	var row storage.InteractionLogModel
	if err := conn.GetConnection().Where("conversation_id = ?", "conv-1").First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}

	var gotToolCalls []string
	if err := json.Unmarshal([]byte(row.ToolCalls), &gotToolCalls); err != nil {
		t.Fatalf("unmarshal tool_calls_json: %v", err)
	}
	if len(gotToolCalls) != 2 || gotToolCalls[0] != "search" || gotToolCalls[1] != "calculator" {
		t.Fatalf("unexpected tool calls: %v", gotToolCalls)
	}

	var gotFeatures map[string]any
	if err := json.Unmarshal([]byte(row.RoutingFeatures), &gotFeatures); err != nil {
		t.Fatalf("unmarshal routing_features_json: %v", err)
	}
	if gotFeatures["confidence"] != 0.82 {
		t.Fatalf("expected confidence 0.82, got %v", gotFeatures["confidence"])
	}
}

func TestInteractionLogger_EmptyToolCallsAndRoutingFeaturesStayBlank(t *testing.T) {
	conn := newTestConnectionManager(t)
	logger := NewInteractionLogger(conn)

	in := LogInput{
		ConversationID: "conv-2",
		Response:       "this is another long enough response for style metrics",
	}
	if err := logger.Log(context.Background(), in); err != nil {
		t.Fatalf("Log: %v", err)
	}

	var row storage.InteractionLogModel
	if err := conn.GetConnection().Where("conversation_id = ?", "conv-2").First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.ToolCalls != "" {
		t.Fatalf("expected empty tool_calls_json, got %q", row.ToolCalls)
	}
	if row.RoutingFeatures != "" {
		t.Fatalf("expected empty routing_features_json, got %q", row.RoutingFeatures)
	}
}
