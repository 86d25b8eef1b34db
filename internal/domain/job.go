package domain

import (
	"errors"
	"time"
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobRetrying  JobState = "retrying"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

func (s JobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// DownloadJob est l'unité de travail du scheduler : une page (leçon) à
// récupérer pour un compte, avec le filtre d'assets choisi par l'utilisateur.
type DownloadJob struct {
	ID         string
	AccountID  string
	PageID     string
	OutputName string
	OutputPath string
	State      JobState
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time

	ParamsJSON   []byte
	ErrorCode    string
	ErrorMessage string
}

// JobEvent est une entrée du journal append-only des transitions.
type JobEvent struct {
	JobID      string
	Seq        int64
	State      JobState
	Detail     string
	OccurredAt time.Time
}

var ErrInvalidTransition = errors.New("invalid job state transition")

// CanTransition encode la machine à états :
// queued -> running -> {succeeded | retrying | failed | canceled},
// retrying -> running. succeeded/failed ne sont atteignables que depuis
// running ; l'annulation reste possible depuis tout état non terminal.
func CanTransition(from, to JobState) bool {
	if from == to {
		return true
	}
	switch from {
	case JobQueued:
		return to == JobRunning || to == JobCanceled
	case JobRunning:
		return to == JobRetrying || to == JobSucceeded || to == JobFailed || to == JobCanceled
	case JobRetrying:
		return to == JobRunning || to == JobCanceled
	case JobSucceeded, JobFailed, JobCanceled:
		return false
	default:
		return false
	}
}
