// Package pipeline runs a claimed job through download, summary extraction
// and analysis, persisting every checkpoint through the job store.
package pipeline

import "github.com/PlanSureAI/plansureai-risk-web-sub001/constants"

// Step names one state of the worker's state machine.
type Step string

const (
	StepClaim          Step = "claim"
	StepDownload       Step = "download"
	StepSummarize      Step = "summarize"
	StepPersistSummary Step = "persist_summary"
	StepAnalyze        Step = "analyze"
	StepFinalize       Step = "finalize"
	StepFail           Step = "fail"
	StepDone           Step = "done"
)

// Transition describes one step: the job status it runs in, the status it
// leaves behind, the progress checkpoint it writes (0 for none) and where the
// machine goes next on success and on error.
type Transition struct {
	Step     Step
	From     constants.JobStatus // empty means any non-terminal status
	To       constants.JobStatus
	Progress int
	Message  string
	Next     Step
	OnError  Step
}

// Transitions is the worker's transition table. Summary-side failures end the
// job; an analysis failure degrades to a completed job without an analysis.
var Transitions = map[Step]Transition{
	StepClaim: {
		Step: StepClaim, From: constants.JobStatusQueued, To: constants.JobStatusProcessing,
		Progress: constants.ProgressDownloading, Message: constants.MessageDownloading,
		Next: StepDownload, OnError: StepDone,
	},
	StepDownload: {
		Step: StepDownload, From: constants.JobStatusProcessing, To: constants.JobStatusProcessing,
		Progress: constants.ProgressExtracting, Message: constants.MessageExtracting,
		Next: StepSummarize, OnError: StepFail,
	},
	StepSummarize: {
		Step: StepSummarize, From: constants.JobStatusProcessing, To: constants.JobStatusProcessing,
		Next: StepPersistSummary, OnError: StepFail,
	},
	StepPersistSummary: {
		Step: StepPersistSummary, From: constants.JobStatusProcessing, To: constants.JobStatusProcessing,
		Progress: constants.ProgressAnalyzing, Message: constants.MessageAnalyzing,
		Next: StepAnalyze, OnError: StepFail,
	},
	StepAnalyze: {
		Step: StepAnalyze, From: constants.JobStatusProcessing, To: constants.JobStatusProcessing,
		Next: StepFinalize, OnError: StepFinalize,
	},
	StepFinalize: {
		Step: StepFinalize, From: constants.JobStatusProcessing, To: constants.JobStatusCompleted,
		Progress: constants.ProgressDone, Message: constants.MessageAnalysisComplete,
		Next: StepDone, OnError: StepFail,
	},
	StepFail: {
		Step: StepFail, To: constants.JobStatusFailed,
		Progress: constants.ProgressDone, Message: constants.MessageProcessingFailed,
		Next: StepDone, OnError: StepDone,
	},
}

// Allows reports whether the step may run while the job is in status s:
// the status it leaves behind must keep the lifecycle monotone.
func (t Transition) Allows(s constants.JobStatus) bool {
	return s.CanAdvanceTo(t.To)
}

// Fatal reports whether an error in s ends the job as failed.
func (s Step) Fatal() bool {
	return Transitions[s].OnError == StepFail
}
