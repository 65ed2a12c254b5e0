// Package supervisor runs backup jobs as sbe-worker subprocesses.
//
// Run enqueues a job, waits for admission, optionally mounts the target
// volume, and starts the worker with its output captured. A monitor
// goroutine per worker waits for the exit, completes the queue entry under
// the worker PID, records run history and mails the captured output of
// failed runs. Cancelling the scheduler does not stop running workers.
package supervisor
