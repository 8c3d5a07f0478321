package constants

// JobStatus is the canonical lifecycle status for rows in processing_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued     JobStatus = "queued"     // stored, waiting for the queue callback
	JobStatusProcessing JobStatus = "processing" // claimed by a worker invocation
	JobStatusCompleted  JobStatus = "completed"  // summary exists; analysis may have failed
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// rank orders statuses along the only legal direction of travel.
var rank = map[JobStatus]int{
	JobStatusQueued:     0,
	JobStatusProcessing: 1,
	JobStatusCompleted:  2,
	JobStatusFailed:     2,
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	_, ok := rank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotone.
// Staying in processing is allowed (progress writes); terminal states never move.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s.IsTerminal() || !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return s == JobStatusProcessing
	}
	return rank[next] > rank[s]
}

// AnalysisStatus tracks the analysis sub-pipeline independently of JobStatus.
type AnalysisStatus string

const (
	AnalysisStatusPending AnalysisStatus = "pending"
	AnalysisStatusReady   AnalysisStatus = "ready"
	AnalysisStatusError   AnalysisStatus = "error"
)
