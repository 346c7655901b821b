package admission

// QueueStats is a consistent snapshot of the queue's counters. Counters are
// mutated only under the queue's own lock; reads are synchronous and always
// consistent.
type QueueStats struct {
	// Active is the number of in-flight executions right now.
	Active int

	// Queued is the current backlog size.
	Queued int

	Admitted  int64
	Completed int64
	Failed    int64
	Expired   int64
	Rejected  int64
	Canceled  int64

	// ByPriority counts admissions per priority class.
	ByPriority map[Priority]int64
}
