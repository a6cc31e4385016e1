package pipeline

// State is a step of the per-request state machine:
//
//	PENDING → CLONED → TRANSFORMED → EXECUTING → {EXECUTED | EXECUTION_FAILED}
//	        → {RENDERED | RENDER_SKIPPED} → DONE
type State string

const (
	StatePending         State = "PENDING"
	StateCloned          State = "CLONED"
	StateTransformed     State = "TRANSFORMED"
	StateExecuting       State = "EXECUTING"
	StateExecuted        State = "EXECUTED"
	StateExecutionFailed State = "EXECUTION_FAILED"
	StateRendered        State = "RENDERED"
	StateRenderSkipped   State = "RENDER_SKIPPED"
	StateDone            State = "DONE"
)

// Stage names the unit of work a failure is reported against.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageClone     Stage = "clone"
	StageTransform Stage = "transform"
	StageExecute   Stage = "execute"
	StageRender    Stage = "render"
	StageArchive   Stage = "archive"
)

// Render outcomes reported in Result.Render.
const (
	RenderRendered = "rendered"
	RenderSkipped  = "skipped"
)

// Triggers recorded with each run.
const (
	TriggerHTTP     = "http"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)
