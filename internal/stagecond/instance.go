package stagecond

// Stage statuses written by stage-control actions.
const (
	StatusInProgress     = "In Progress"
	StatusCompleted      = "Completed"
	StatusForceCompleted = "Force Completed"
	StatusSkipped        = "Skipped"
)

// EndStatuses lists the statuses EndWorkflow accepts.
var EndStatuses = []string{StatusCompleted, StatusForceCompleted}

// Stage is a step of a workflow, ordered by Order.
type Stage struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	Name       string `json:"name"`
	Order      int    `json:"order"`
}
