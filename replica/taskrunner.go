package replica

import "golang.org/x/sync/errgroup"

// taskRunner dispatches concurrent goroutines through errgroup.Group, the
// same primitive the teacher's TaskRunner (task_runner.go, taskrunner.go)
// wraps for its own "replicate to passive targets at commit time" concern.
//
// Unlike the teacher's TaskRunner, OnCommit never calls Wait here: each
// dispatched push carries its own independently awaitable, independently
// cancelable Future, and a failure pushing to one remote must never cancel
// another remote's in-flight push. taskRunner only takes over the
// goroutine-dispatch and concurrency-bounding concern; per-push
// cancellation stays with Future's own context.
type taskRunner struct {
	eg *errgroup.Group
}

// newTaskRunner builds a taskRunner bounding concurrent goroutines to max,
// mirroring SharedCode-sop's TaskRunner maxThreadCount. max<=0 means
// unbounded, matching errgroup.Group's default.
func newTaskRunner(max int) *taskRunner {
	eg := &errgroup.Group{}
	if max > 0 {
		eg.SetLimit(max)
	}
	return &taskRunner{eg: eg}
}

// Go runs task on a goroutine managed by the underlying errgroup.
func (tr *taskRunner) Go(task func() error) {
	tr.eg.Go(task)
}
