package eventbus

// Event topics published by the session and workflow controllers.
const (
	// Session lifecycle.
	EventSessionChecking        = "session:checking"
	EventSessionAuthenticated   = "session:authenticated"
	EventSessionUnauthenticated = "session:unauthenticated"
	EventSessionExpired         = "session:expired"
	EventSessionRecovery        = "session:recovery"

	// Workflow lifecycle.
	EventWorkflowUpdated  = "workflow:updated"
	EventWorkflowDeferred = "workflow:deferred"
	EventWorkflowReplayed = "workflow:replayed"

	// User-visible notifications.
	EventNotification = "system:notification"
)

// SessionEventData accompanies every session topic.
type SessionEventData struct {
	Status string `json:"status"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// WorkflowEventData accompanies every workflow topic.
type WorkflowEventData struct {
	DraftID  string `json:"draft_id,omitempty"`
	Status   string `json:"status"`
	Deferred bool   `json:"deferred,omitempty"`
}

// NotificationData is rendered to the user by the embedding application.
type NotificationData struct {
	Level   string `json:"level"` // error, warn, info
	Message string `json:"message"`
}
