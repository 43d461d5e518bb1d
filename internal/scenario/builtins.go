package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

// excerptRunes caps how much extracted document text is carried in the
// context bag and therefore in oracle prompts
const excerptRunes = 2000

// Triage is an oracle-driven incident triage flow. Investigation passes
// are counted in the context; the third pass escalates directly instead
// of waiting for the oracle.
func Triage() *Scenario {
	return &Scenario{
		Name:        "incident-triage",
		Description: "Drive an incident from NEW to RESOLVED or ESCALATED",
		Policy:      PolicyOracle,
		ContextPrompt: "You triage a production incident. Move it forward one state " +
			"at a time: investigate new incidents, mitigate confirmed ones, resolve " +
			"mitigated ones. Answer with exactly one state name from the possible states.",
		InitialState: "NEW",
		PossibleStates: []machine.State{
			"NEW", "INVESTIGATING", "MITIGATED", "RESOLVED", "ESCALATED",
		},
		InitialData: map[string]any{
			"severity": "unknown",
			"attempts": 0,
		},
		Instructions: machine.Instructions{
			{
				Description: "Count each investigation pass",
				Condition: func(e *machine.Entity) bool {
					return e.State() == "INVESTIGATING"
				},
				Action: func(ctx context.Context, e *machine.Entity) error {
					n, _ := e.IntData("attempts")
					e.SetData("attempts", n+1)
					return nil
				},
			},
			{
				Description: "Escalate after three investigation passes",
				Condition: func(e *machine.Entity) bool {
					n, _ := e.IntData("attempts")
					return e.State() == "INVESTIGATING" && n >= 3
				},
				Action: func(ctx context.Context, e *machine.Entity) error {
					return e.TransitionTo("ESCALATED")
				},
			},
			{
				Description: "Mark mitigated incidents ready for closure",
				Condition: func(e *machine.Entity) bool {
					return e.State() == "MITIGATED"
				},
				Action: func(ctx context.Context, e *machine.Entity) error {
					e.SetData("ready_to_close", true)
					return nil
				},
			},
		},
		Goal: anyVisited("RESOLVED", "ESCALATED"),
	}
}

// Pipeline is a table-driven release flow with a fixed stage order and no
// oracle involvement.
func Pipeline() *Scenario {
	return &Scenario{
		Name:         "release-pipeline",
		Description:  "Promote a build through TEST and STAGE to PROD",
		Policy:       PolicyTable,
		InitialState: "BUILD",
		PossibleStates: []machine.State{
			"BUILD", "TEST", "STAGE", "PROD",
		},
		Successors: map[machine.State]machine.State{
			"BUILD": "TEST",
			"TEST":  "STAGE",
			"STAGE": "PROD",
		},
		InitialData: map[string]any{
			"artifact": "app-0.0.0",
		},
		Instructions: machine.Instructions{
			{
				Description: "Record that the test stage was entered",
				Condition: func(e *machine.Entity) bool {
					_, stamped := e.Data("tested")
					return e.State() == "TEST" && !stamped
				},
				Action: func(ctx context.Context, e *machine.Entity) error {
					e.SetData("tested", true)
					return nil
				},
			},
		},
		Goal:          anyVisited("PROD"),
		MaxIterations: 10,
	}
}

// DocumentReview is an oracle-driven review flow. When a run is submitted
// with a document_path, the first iteration extracts the document text
// into the context, then asks the oracle for an assessment of the excerpt.
// Both land in the context bag, so every later transition decision is made
// with the content and the assessment in front of the oracle.
func DocumentReview(reader port.DocumentReader, oracle port.DecisionOracle) *Scenario {
	return &Scenario{
		Name:        "document-review",
		Description: "Review a submitted document and approve or reject it",
		Policy:      PolicyOracle,
		ContextPrompt: "You review a submitted document. Read the excerpt in the " +
			"context, then move the review forward one state at a time until the " +
			"document is APPROVED or REJECTED. Answer with exactly one state name " +
			"from the possible states.",
		InitialState: "RECEIVED",
		PossibleStates: []machine.State{
			"RECEIVED", "REVIEWING", "APPROVED", "REJECTED",
		},
		Instructions: machine.Instructions{
			{
				Description: "Extract the document text into the context",
				Condition: func(e *machine.Entity) bool {
					path, ok := e.StringData("document_path")
					_, extracted := e.Data("document_excerpt")
					return ok && path != "" && !extracted
				},
				Action: func(ctx context.Context, e *machine.Entity) error {
					path, _ := e.StringData("document_path")

					doc, err := reader.ExtractText(ctx, path)
					if err != nil {
						return fmt.Errorf("extract %s: %w", path, err)
					}

					excerpt := []rune(doc.Text)
					if len(excerpt) > excerptRunes {
						excerpt = excerpt[:excerptRunes]
					}

					e.SetData("document_excerpt", string(excerpt))
					e.SetData("document_pages", doc.Pages)
					return nil
				},
			},
			{
				Description: "Ask the oracle to assess the extracted text",
				Condition: func(e *machine.Entity) bool {
					_, extracted := e.Data("document_excerpt")
					_, assessed := e.Data("analysis")
					return oracle != nil && extracted && !assessed
				},
				Action: func(ctx context.Context, e *machine.Entity) error {
					excerpt, _ := e.StringData("document_excerpt")

					reply, err := oracle.Decide(ctx, analysisPrompt(excerpt))
					if err != nil {
						return fmt.Errorf("assess document: %w", err)
					}

					e.SetData("analysis", strings.TrimSpace(reply))
					return nil
				},
			},
		},
		Goal: anyVisited("APPROVED", "REJECTED"),
	}
}

// analysisPrompt builds the assessment request sent to the oracle once a
// document excerpt is in the context
func analysisPrompt(excerpt string) string {
	return "Assess the following document excerpt for review. Answer on " +
		"one line: APPROVE or REJECT, followed by a short reason.\n\n" + excerpt
}

// anyVisited builds a goal that holds once any of the given states has
// been visited
func anyVisited(states ...machine.State) machine.GoalPredicate {
	return func(visited []machine.State, e *machine.Entity) bool {
		for _, v := range visited {
			for _, s := range states {
				if v == s {
					return true
				}
			}
		}
		return false
	}
}
