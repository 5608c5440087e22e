package agent

// Platform abstracts OS-specific operations for enforcing the budget
type Platform interface {
	// LockWorkstation locks the session when time runs out
	LockWorkstation() error

	// ShowWarningNotification displays a notification to the user
	ShowWarningNotification(title, message string) error
}
