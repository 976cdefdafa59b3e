package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries tasks that must not wait behind bulk work.
	QueueCritical = "critical"
)
