package taskname

const (
	// Investment tasks
	InvestmentRecompute = "investment:recompute"

	// Notification tasks
	NotificationDeliver = "notification:deliver"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
