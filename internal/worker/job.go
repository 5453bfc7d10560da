package worker

import "context"

// Job is one unit of work queued under Key. Jobs sharing a key run in submission
// order; distinct keys are served round-robin.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context)

	stop bool
}

func stopJob() Job {
	return Job{Name: "stop", stop: true}
}
