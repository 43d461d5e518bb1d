package machine

import "context"

// ConditionFunc decides whether an instruction applies to the entity's
// current situation. It must not mutate the entity.
type ConditionFunc func(e *Entity) bool

// ActionFunc performs an instruction's effect. Actions may mutate the context
// bag, call TransitionTo and perform external work through ctx.
type ActionFunc func(ctx context.Context, e *Entity) error

// Instruction pairs a condition with an action. The description is the only
// part surfaced to transition policies, so it should state what the action
// does in one line.
type Instruction struct {
	Description string
	Condition   ConditionFunc
	Action      ActionFunc
}

// Active returns true if the instruction applies to the entity.
// A nil condition always applies.
func (i Instruction) Active(e *Entity) bool {
	return i.Condition == nil || i.Condition(e)
}

// Run executes the instruction's action. A nil action is a no-op.
func (i Instruction) Run(ctx context.Context, e *Entity) error {
	if i.Action == nil {
		return nil
	}
	return i.Action(ctx, e)
}

// Instructions is an ordered instruction list
type Instructions []Instruction

// Active returns the instructions whose conditions hold for the entity,
// preserving list order
func (is Instructions) Active(e *Entity) Instructions {
	active := make(Instructions, 0, len(is))
	for _, in := range is {
		if in.Active(e) {
			active = append(active, in)
		}
	}
	return active
}

// Descriptions returns the descriptions of the instructions in list order
func (is Instructions) Descriptions() []string {
	descs := make([]string, 0, len(is))
	for _, in := range is {
		descs = append(descs, in.Description)
	}
	return descs
}
