package store

import "time"

// ParamType is the declared type of a template parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ParamDecl declares one parameter in a Template's paramsSchema.
type ParamDecl struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Template is a reusable script recipe (spec.md §3 "Template").
type Template struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Description         string      `json:"description,omitempty"`
	Category            string      `json:"category,omitempty"`
	Code                string      `json:"code"`
	ParamsSchema        []ParamDecl `json:"paramsSchema"`
	RequiredCredentials []string    `json:"requiredCredentials"`
	SuggestedSchedule   string      `json:"suggestedSchedule,omitempty"`
	IsBuiltin           bool        `json:"isBuiltin"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// ScheduleType enumerates Task.ScheduleType.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
)

// Task binds a Template to parameter values, a schedule, and a credential
// grant list (spec.md §3 "Task").
type Task struct {
	ID            int64          `json:"id"`
	TemplateID    string         `json:"templateId"`
	Name          string         `json:"name"`
	Params        map[string]any `json:"params"`
	ScheduleType  ScheduleType   `json:"scheduleType"`
	ScheduleValue string         `json:"scheduleValue"`
	Credentials   []string       `json:"credentials"`
	Enabled       bool           `json:"enabled"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	LastRunAt     *time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt     *time.Time     `json:"nextRunAt,omitempty"`
}

// ExecutionStatus enumerates Execution.Status.
type ExecutionStatus string

const (
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusTimeout ExecutionStatus = "timeout"
)

// ConsoleLine is one entry in an Execution's captured console output.
type ConsoleLine struct {
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Output is the structured result captured from a script run.
type Output struct {
	Console     []ConsoleLine `json:"console"`
	ReturnValue any           `json:"returnValue,omitempty"`
}

// Execution is one attempted run of a Task (spec.md §3 "Execution").
type Execution struct {
	ID         int64           `json:"id"`
	TaskID     int64           `json:"taskId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Output     *Output         `json:"output,omitempty"`
	Error      *string         `json:"error,omitempty"`
	DurationMs *int64          `json:"durationMs,omitempty"`
}

// CredentialType enumerates Credential.Type.
type CredentialType string

const (
	CredAPIKey     CredentialType = "api_key"
	CredOAuthToken CredentialType = "oauth_token"
	CredEnvVar     CredentialType = "env_var"
	CredSecret     CredentialType = "secret"
)

// Credential is a named, encrypted secret usable only by tasks that list it
// (spec.md §3 "Credential"). The type carries no ciphertext or plaintext
// field; only HasValue says whether a value is set.
type Credential struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Type       CredentialType `json:"type"`
	Description string        `json:"description,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	LastUsedAt *time.Time     `json:"lastUsedAt,omitempty"`
	HasValue   bool           `json:"hasValue"`
}

// Stats is the daemon-wide counters surfaced by the status() control-plane
// operation (spec.md §6 "System").
type Stats struct {
	TasksCount        int
	EnabledTasksCount int
	PendingExecutions int
	RecentErrors      int
	TemplatesCount    int
	CredentialsCount  int
	ExecutionsCount   int
}

// TaskFilter narrows Tasks.List.
type TaskFilter struct {
	Enabled    *bool
	TemplateID string
	HasErrors  bool
}

// ExecutionFilter narrows Executions.List.
type ExecutionFilter struct {
	TaskID    int64
	Status    ExecutionStatus
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// ExecutionPage is the paginated result of Executions.List.
type ExecutionPage struct {
	Items []Execution `json:"items"`
	Total int         `json:"total"`
}
