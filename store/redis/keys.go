package redis

// Key prefixes for primary entity storage.
const (
	prefixMarker = "triage:marker:"
	prefixJob    = "triage:job:"
	prefixDead   = "triage:dead:"
)

// Sorted set and set indexes.
const (
	// zJobsDelayed holds jobs scored by their eligibility time.
	zJobsDelayed = "triage:z:jobs:delayed"

	// zJobsReady holds due jobs scored by priority (higher first), with
	// eligibility time as the tiebreak.
	zJobsReady = "triage:z:jobs:ready"

	// sJobsActive holds claimed job IDs.
	sJobsActive = "triage:s:jobs:active"

	// hJobPriority maps job ID to priority, read during promotion.
	hJobPriority = "triage:h:jobs:priority"

	// zDeadAll indexes dead-letter entries by failure time.
	zDeadAll = "triage:z:dead:all"
)

// Counters.
const (
	counterCompleted = "triage:c:jobs:completed"
	counterFailed    = "triage:c:jobs:failed"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
