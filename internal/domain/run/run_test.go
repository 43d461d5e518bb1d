package run

import "testing"

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusRunning, false},
		{StatusGoalReached, true},
		{StatusFaulted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.expected {
				t.Errorf("Status.Terminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStatus_String(t *testing.T) {
	if got := StatusGoalReached.String(); got != "GOAL_REACHED" {
		t.Errorf("Status.String() = %v, want %v", got, "GOAL_REACHED")
	}
}

func TestFaultReason_String(t *testing.T) {
	if got := FaultIterationCapExceeded.String(); got != "ITERATION_CAP_EXCEEDED" {
		t.Errorf("FaultReason.String() = %v, want %v", got, "ITERATION_CAP_EXCEEDED")
	}
}

func TestNewID_Unique(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if id == "" {
			t.Fatal("NewID() returned empty string")
		}
		if ids[id] {
			t.Errorf("Duplicate run ID found: %s", id)
		}
		ids[id] = true
	}
}
