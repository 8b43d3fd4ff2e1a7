package model

import "fmt"

type JobStatus string

const (
	StatusPending          JobStatus = "pending"
	StatusGatheringContext JobStatus = "gathering_context"
	StatusGeneratingScript JobStatus = "generating_script"
	StatusGeneratingAssets JobStatus = "generating_assets"
	StatusGeneratingVoice  JobStatus = "generating_voice"
	StatusGeneratingCode   JobStatus = "generating_code"
	StatusRendering        JobStatus = "rendering"
	StatusPostProcessing   JobStatus = "post_processing"
	StatusCompleted        JobStatus = "completed"
	StatusFailed           JobStatus = "failed"
)

// Pipeline lists the non-terminal stages in execution order.
var Pipeline = []JobStatus{
	StatusGatheringContext,
	StatusGeneratingScript,
	StatusGeneratingAssets,
	StatusGeneratingVoice,
	StatusGeneratingCode,
	StatusRendering,
	StatusPostProcessing,
}

var stageProgress = map[JobStatus]int{
	StatusPending:          0,
	StatusGatheringContext: 10,
	StatusGeneratingScript: 25,
	StatusGeneratingAssets: 40,
	StatusGeneratingVoice:  55,
	StatusGeneratingCode:   70,
	StatusRendering:        75,
	StatusPostProcessing:   95,
	StatusCompleted:        100,
}

// Progress returns the percentage reported when a job enters status. Failed
// has no fixed value; the job keeps whatever it had reached.
func (s JobStatus) Progress() int {
	return stageProgress[s]
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusPending: {
		StatusPending:          true,
		StatusGatheringContext: true,
		StatusFailed:           true,
	},
	StatusGatheringContext: {
		StatusGatheringContext: true,
		StatusGeneratingScript: true,
		StatusFailed:           true,
	},
	StatusGeneratingScript: {
		StatusGeneratingScript: true,
		StatusGeneratingAssets: true,
		StatusFailed:           true,
	},
	StatusGeneratingAssets: {
		StatusGeneratingAssets: true,
		StatusGeneratingVoice:  true,
		StatusFailed:           true,
	},
	StatusGeneratingVoice: {
		StatusGeneratingVoice: true,
		StatusGeneratingCode:  true,
		StatusFailed:          true,
	},
	StatusGeneratingCode: {
		StatusGeneratingCode: true,
		StatusRendering:      true,
		StatusFailed:         true,
	},
	StatusRendering: {
		StatusRendering:      true,
		StatusPostProcessing: true,
		StatusFailed:         true,
	},
	StatusPostProcessing: {
		StatusPostProcessing: true,
		StatusCompleted:      true,
		StatusFailed:         true,
	},
	StatusCompleted: {
		StatusCompleted: true,
	},
	StatusFailed: {
		StatusFailed:           true,
		StatusGatheringContext: true, // scheduled retry restarts the pipeline
	},
}

func IsKnownStatus(status JobStatus) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// CheckTransition validates a status/progress write against the current
// record. Progress may only move backwards when a failed job restarts.
func CheckTransition(job VideoJob, to JobStatus, progress int) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrInvalidTransition, job.Status, to, job.ID)
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %d out of range (job_id=%s)", ErrInvalidTransition, progress, job.ID)
	}
	if job.Status != StatusFailed && progress < job.Progress {
		return fmt.Errorf("%w: progress %d -> %d (job_id=%s)", ErrInvalidTransition, job.Progress, progress, job.ID)
	}
	return nil
}
