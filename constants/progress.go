package constants

// Progress checkpoints written by the pipeline worker.
const (
	ProgressQueued      = 0
	ProgressDownloading = 10
	ProgressExtracting  = 35
	ProgressAnalyzing   = 70
	ProgressDone        = 100
)

// Human readable progress messages shown to polling clients.
const (
	MessageQueued            = "Queued for processing"
	MessageDownloading       = "Downloading document"
	MessageExtracting        = "Extracting planning summary"
	MessageAnalyzing         = "Generating planning analysis"
	MessageAnalysisComplete  = "Analysis complete"
	MessageSummaryReady      = "Summary ready"
	MessageProcessingFailed  = "Processing failed"
	MessageProcessingTimeout = "Processing timed out"
)

// MaxErrorMessageLen caps error_message / analysis_error columns.
const MaxErrorMessageLen = 500
