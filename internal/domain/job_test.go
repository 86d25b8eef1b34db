package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to JobState }{
		{JobQueued, JobRunning},
		{JobQueued, JobCanceled},
		{JobRunning, JobRetrying},
		{JobRunning, JobSucceeded},
		{JobRunning, JobFailed},
		{JobRunning, JobCanceled},
		{JobRetrying, JobRunning},
		{JobRetrying, JobCanceled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to JobState }{
		{JobQueued, JobSucceeded},
		{JobQueued, JobFailed},
		{JobQueued, JobRetrying},
		{JobRetrying, JobSucceeded},
		{JobRetrying, JobFailed},
		{JobSucceeded, JobRunning},
		{JobFailed, JobQueued},
		{JobCanceled, JobRunning},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestCanTransition_TerminalStatesAreImmutable(t *testing.T) {
	terminals := []JobState{JobSucceeded, JobFailed, JobCanceled}
	all := []JobState{JobQueued, JobRunning, JobRetrying, JobSucceeded, JobFailed, JobCanceled}

	for _, from := range terminals {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range all {
			if from == to {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("terminal %s should not transition to %s", from, to)
			}
		}
	}
}
