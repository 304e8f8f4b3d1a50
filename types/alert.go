package types

// AlertType is the severity of a generic alert.
type AlertType string

// Alert severities.
const (
	AlertInfo    AlertType = "info"
	AlertError   AlertType = "error"
	AlertSuccess AlertType = "success"
)

// Alert is a generic notification for the UI.
type Alert struct {
	Type        AlertType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"`
	// Source names the action type or component that raised the alert.
	Source string `json:"source,omitempty"`
}

// BuildStage is the stage of a build/deploy notification.
type BuildStage string

// Build stages.
const (
	StageBuilding  BuildStage = "building"
	StageDeploying BuildStage = "deploying"
	StageComplete  BuildStage = "complete"
)

// PhaseStatus is the status of a build or deploy phase.
type PhaseStatus string

// Phase statuses.
const (
	PhasePending PhaseStatus = "pending"
	PhaseRunning PhaseStatus = "running"
	PhaseSuccess PhaseStatus = "success"
	PhaseFailed  PhaseStatus = "failed"
)

// BuildAlert reports build and deploy progress.
type BuildAlert struct {
	Stage        BuildStage  `json:"stage"`
	BuildStatus  PhaseStatus `json:"build_status"`
	DeployStatus PhaseStatus `json:"deploy_status"`
	Source       string      `json:"source"`
	URL          string      `json:"url,omitempty"`
	Message      string      `json:"message,omitempty"`
}

// DatabaseAlert reports a database migration or query that needs attention.
type DatabaseAlert struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Source      string `json:"source"`
}

// NotificationKind discriminates Notification payloads.
type NotificationKind string

// Notification kinds.
const (
	NotificationAlert    NotificationKind = "alert"
	NotificationBuild    NotificationKind = "build"
	NotificationDatabase NotificationKind = "database"
)

// Notification is the envelope published to alert sinks.
// Exactly one of Alert, Build, Database is set, matching Kind.
type Notification struct {
	Version   string           `json:"version"`
	Kind      NotificationKind `json:"kind"`
	SessionID string           `json:"session_id"`
	ActionID  string           `json:"action_id,omitempty"`
	Timestamp string           `json:"timestamp"`
	Alert     *Alert           `json:"alert,omitempty"`
	Build     *BuildAlert      `json:"build,omitempty"`
	Database  *DatabaseAlert   `json:"database,omitempty"`
}

// Title returns the headline of whichever payload is set.
func (n *Notification) Title() string {
	switch {
	case n.Alert != nil:
		return n.Alert.Title
	case n.Database != nil:
		return n.Database.Title
	case n.Build != nil:
		return string(n.Build.Stage) + ": build " + string(n.Build.BuildStatus)
	default:
		return string(n.Kind)
	}
}
