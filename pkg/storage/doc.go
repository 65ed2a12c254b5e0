/*
Package storage keeps the run history of backup jobs in a BoltDB file.

One record per (target, class) pair is stored as JSON in the run_stats
bucket, keyed by "target/class". The supervisor records the start and
outcome of every run; sbe status and the daily stale-job check read it.

	store, err := storage.NewBoltStore("/var/SBE/reports/sbe.db")
	if err != nil {
		return err
	}
	defer store.Close()

	stale, err := store.Stale(time.Now(), 48*time.Hour)

BoltDB allows a single process to hold the file open; the scheduler owns it
while running and other commands open it briefly with a one second timeout.
*/
package storage
