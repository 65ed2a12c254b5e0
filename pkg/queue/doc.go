/*
Package queue implements the file-backed job queue and admission control.

Three text files live in the queue directory (the reports directory,
/var/SBE/reports by default):

	SBE-queue      PENDING entries     pid; timestamp; target; class;
	SBE-queue-run  RUNNING entries     pid; timestamp; target; class;
	SBE-done       completion records  pid; timestamp; target; class; SUCCESS|FAILED;

Timestamps use the layout "2006-01-02 15:04:05" in local time.

# Lifecycle

	TryEnqueue ──► PENDING ──Admit──► RUNNING ──MarkStarted──► RUNNING(worker pid)
	                  │                                              │
	                  └────────── Retract ◄── spawn failure          └─Complete──► SBE-done

TryEnqueue enforces the de-duplication invariant: at most one PENDING or
RUNNING entry per (target, class). Admit polls every PollInterval until the
number of live RUNNING entries drops below MaxRunning.

# Ownership

A Store is the only writer of its directory. Open takes an exclusive flock
on SBE.lock and records the holder PID in it; a second scheduler fails with
ErrLocked. Status tooling opens the store with ReadOnly to inspect it while
a scheduler runs.

Entry liveness goes through LivenessChecker. The default ProcessTable
implementation asks the OS process table via gopsutil. This is not a lock:
see LivenessChecker for the race it accepts.
*/
package queue
