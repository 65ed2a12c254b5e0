/*
Package health provides probes used around backup runs.

Three Checker implementations share one Result type:

  - HTTPChecker probes the key service /health endpoint before a key is
    fetched. A BodyCheck validates the JSON payload ({"status":"healthy"}).
  - ExecChecker runs the daily checker command at 18:00 and keeps its
    combined output for the failure notification.
  - TCPChecker verifies that the ssh port of a backup source accepts
    connections before the worker starts the transfer.

Probes never return errors; failures are reported through Result.Healthy
and Result.Message so callers can decide whether a failed probe is fatal.
*/
package health
