package models

// TaskStatus is the lifecycle state of a task report.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusClosed    TaskStatus = "closed"
)

// ReportType distinguishes task reports from other report kinds.
type ReportType string

const (
	ReportTypeTask    ReportType = "task"
	ReportTypeExpense ReportType = "expense"
	ReportTypeChat    ReportType = "chat"
)

// Task is a to-do item attached to a report.
type Task struct {
	ReportID       string     `json:"report_id" yaml:"report_id"`
	ParentReportID string     `json:"parent_report_id,omitempty" yaml:"parent_report_id,omitempty"`
	Type           ReportType `json:"type" yaml:"type"`
	Title          string     `json:"title" yaml:"title"`

	// Description is the stored lightweight markup. It may carry CRLF line
	// endings when it came from the server.
	Description string `json:"description" yaml:"description"`

	// DescriptionHTML is the rendered form of Description.
	DescriptionHTML string `json:"description_html,omitempty" yaml:"description_html,omitempty"`

	Status            TaskStatus `json:"status" yaml:"status"`
	OwnerAccountID    int64      `json:"owner_account_id" yaml:"owner_account_id"`
	AssigneeAccountID int64      `json:"assignee_account_id,omitempty" yaml:"assignee_account_id,omitempty"`

	// ParentArchived is true when the report the task lives in is archived.
	ParentArchived bool `json:"parent_archived,omitempty" yaml:"parent_archived,omitempty"`
}

// IsTaskReport reports whether the record is a task report.
func (t *Task) IsTaskReport() bool {
	return t != nil && t.Type == ReportTypeTask
}

// IsOpen reports whether the task can still be worked on.
func (t *Task) IsOpen() bool {
	return t.IsTaskReport() && t.Status == TaskStatusOpen
}
