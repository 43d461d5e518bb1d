package event

import (
	"testing"
	"time"
)

func TestType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      string
	}{
		{
			name:      "run started",
			eventType: TypeRunStarted,
			want:      "run.started",
		},
		{
			name:      "run transition",
			eventType: TypeRunTransition,
			want:      "run.transition",
		},
		{
			name:      "run fallback",
			eventType: TypeRunFallback,
			want:      "run.fallback",
		},
		{
			name:      "run instruction failed",
			eventType: TypeRunInstructionFailed,
			want:      "run.instruction_failed",
		},
		{
			name:      "run finished",
			eventType: TypeRunFinished,
			want:      "run.finished",
		},
		{
			name:      "report generated",
			eventType: TypeReportGenerated,
			want:      "report.generated",
		},
		{
			name:      "archive pruned",
			eventType: TypeArchivePruned,
			want:      "archive.pruned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("Type.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{
			name:      "valid - run started",
			eventType: TypeRunStarted,
			want:      true,
		},
		{
			name:      "valid - run transition",
			eventType: TypeRunTransition,
			want:      true,
		},
		{
			name:      "valid - run fallback",
			eventType: TypeRunFallback,
			want:      true,
		},
		{
			name:      "valid - run instruction failed",
			eventType: TypeRunInstructionFailed,
			want:      true,
		},
		{
			name:      "valid - run finished",
			eventType: TypeRunFinished,
			want:      true,
		},
		{
			name:      "valid - report generated",
			eventType: TypeReportGenerated,
			want:      true,
		},
		{
			name:      "valid - archive pruned",
			eventType: TypeArchivePruned,
			want:      true,
		},
		{
			name:      "invalid - unknown type",
			eventType: Type("unknown.type"),
			want:      false,
		},
		{
			name:      "invalid - empty string",
			eventType: Type(""),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"from": "TRIAGE",
		"to":   "REVIEW",
	}

	event := NewEvent(TypeRunTransition, "run-123", payload)

	if event == nil {
		t.Fatal("NewEvent() returned nil")
	}

	if event.ID == "" {
		t.Error("Event ID should not be empty")
	}

	if event.Type != TypeRunTransition {
		t.Errorf("Event Type = %v, want %v", event.Type, TypeRunTransition)
	}

	if event.RunID != "run-123" {
		t.Errorf("Event RunID = %v, want %v", event.RunID, "run-123")
	}

	if event.Payload == nil {
		t.Fatal("Event Payload should not be nil")
	}

	if event.Payload["from"] != "TRIAGE" {
		t.Errorf("Event Payload[from] = %v, want %v", event.Payload["from"], "TRIAGE")
	}

	if event.Timestamp.IsZero() {
		t.Error("Event Timestamp should not be zero")
	}

	if event.CorrelationID == "" {
		t.Error("Event CorrelationID should not be empty")
	}

	// Timestamp should be recent
	if time.Since(event.Timestamp) > time.Second {
		t.Error("Event Timestamp should be recent")
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	correlationID := "test-correlation-123"
	payload := map[string]interface{}{
		"status": "GOAL_REACHED",
	}

	event := NewEventWithCorrelation(TypeRunFinished, "run-789", payload, correlationID)

	if event == nil {
		t.Fatal("NewEventWithCorrelation() returned nil")
	}

	if event.CorrelationID != correlationID {
		t.Errorf("Event CorrelationID = %v, want %v", event.CorrelationID, correlationID)
	}

	if event.Type != TypeRunFinished {
		t.Errorf("Event Type = %v, want %v", event.Type, TypeRunFinished)
	}

	if event.RunID != "run-789" {
		t.Errorf("Event RunID = %v, want %v", event.RunID, "run-789")
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeRunStarted, "run-1", map[string]interface{}{
		"scenario": "triage",
	})

	modified := original.WithPayload("policy", "oracle")

	// Original should be unchanged (immutability)
	if _, exists := original.Payload["policy"]; exists {
		t.Error("Original event should not be modified")
	}

	if original.Payload["scenario"] != "triage" {
		t.Error("Original event payload should remain intact")
	}

	// Modified should have both keys
	if modified.Payload["scenario"] != "triage" {
		t.Error("Modified event should retain original payload")
	}

	if modified.Payload["policy"] != "oracle" {
		t.Error("Modified event should have new payload")
	}

	// Other fields should be copied
	if modified.ID != original.ID {
		t.Error("Modified event should have same ID")
	}

	if modified.RunID != original.RunID {
		t.Error("Modified event should have same RunID")
	}

	if modified.CorrelationID != original.CorrelationID {
		t.Error("Modified event should have same CorrelationID")
	}
}

func TestEvent_PayloadGetters(t *testing.T) {
	event := NewEvent(TypeRunTransition, "run-1", map[string]interface{}{
		"state":     "REVIEW",
		"iteration": 3,
		"elapsed":   1.5,
		"fallback":  true,
	})

	if got := event.GetPayloadString("state"); got != "REVIEW" {
		t.Errorf("GetPayloadString(state) = %v, want REVIEW", got)
	}
	if got := event.GetPayloadString("iteration"); got != "" {
		t.Errorf("GetPayloadString(iteration) = %v, want empty", got)
	}
	if got := event.GetPayloadInt("iteration"); got != 3 {
		t.Errorf("GetPayloadInt(iteration) = %v, want 3", got)
	}
	if got := event.GetPayloadInt("missing"); got != 0 {
		t.Errorf("GetPayloadInt(missing) = %v, want 0", got)
	}
	if got := event.GetPayloadFloat("elapsed"); got != 1.5 {
		t.Errorf("GetPayloadFloat(elapsed) = %v, want 1.5", got)
	}
	if got := event.GetPayloadFloat("iteration"); got != 3.0 {
		t.Errorf("GetPayloadFloat(iteration) = %v, want 3", got)
	}
	if got := event.GetPayloadBool("fallback"); !got {
		t.Error("GetPayloadBool(fallback) = false, want true")
	}
	if got := event.GetPayloadBool("state"); got {
		t.Error("GetPayloadBool(state) = true, want false")
	}
}

func TestEvent_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		event := NewEvent(TypeRunStarted, "run-1", nil)
		if ids[event.ID] {
			t.Errorf("Duplicate event ID found: %s", event.ID)
		}
		ids[event.ID] = true
	}
}

func TestEvent_CorrelationChain(t *testing.T) {
	event1 := NewEvent(TypeRunStarted, "run-1", nil)
	correlationID := event1.CorrelationID

	event2 := NewEventWithCorrelation(TypeRunTransition, "run-1", nil, correlationID)
	event3 := NewEventWithCorrelation(TypeRunFinished, "run-1", nil, correlationID)

	if event2.CorrelationID != correlationID {
		t.Error("Event2 should have same correlation ID")
	}

	if event3.CorrelationID != correlationID {
		t.Error("Event3 should have same correlation ID")
	}

	// Each event should have unique ID
	if event1.ID == event2.ID || event1.ID == event3.ID || event2.ID == event3.ID {
		t.Error("Events should have unique IDs even with same correlation ID")
	}
}
