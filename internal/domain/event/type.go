package event

// Type identifies the type of domain event
type Type string

const (
	TypeRunStarted           Type = "run.started"
	TypeRunTransition        Type = "run.transition"
	TypeRunFallback          Type = "run.fallback"
	TypeRunInstructionFailed Type = "run.instruction_failed"
	TypeRunFinished          Type = "run.finished"
	TypeReportGenerated      Type = "report.generated"
	TypeArchivePruned        Type = "archive.pruned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRunStarted,
		TypeRunTransition,
		TypeRunFallback,
		TypeRunInstructionFailed,
		TypeRunFinished,
		TypeReportGenerated,
		TypeArchivePruned:
		return true
	default:
		return false
	}
}
