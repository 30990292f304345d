package pump

import "time"

// SchedulingPolicy selects the ready-queue fairness discipline.
type SchedulingPolicy string

const (
	BreadthFirst SchedulingPolicy = "breadth-first"
	DepthFirst   SchedulingPolicy = "depth-first"
)

// AccessLevel gates a meta-namespace introspection operation.
type AccessLevel string

const (
	AccessNone          AccessLevel = "none"
	AccessAuthenticated AccessLevel = "authenticated"
	AccessAdmin         AccessLevel = "admin"
)

// MetaPolicy gates the meta-namespace introspection requests (SPEC_FULL
// §4.5, §6): capability listing and schema/example/prompt retrieval.
type MetaPolicy struct {
	List    bool
	Schema  AccessLevel
	Example AccessLevel
	Prompt  AccessLevel
}

// Config carries the pump's tunable knobs, sourced from the external
// configuration surface (SPEC_FULL §6).
type Config struct {
	Scheduling               SchedulingPolicy
	HandlerTimeoutDefault    time.Duration
	ThreadTokenBudgetDefault int64
	FairnessWindow           int
	MaxConcurrentDispatch    int
	Meta                     MetaPolicy
}

// DefaultConfig returns sensible defaults matching SPEC_FULL §6's
// external configuration surface documentation.
func DefaultConfig() Config {
	return Config{
		Scheduling:               BreadthFirst,
		HandlerTimeoutDefault:    30 * time.Second,
		ThreadTokenBudgetDefault: 100000,
		FairnessWindow:           1,
		MaxConcurrentDispatch:    16,
		Meta: MetaPolicy{
			List:    true,
			Schema:  AccessAuthenticated,
			Example: AccessAuthenticated,
			Prompt:  AccessAuthenticated,
		},
	}
}
