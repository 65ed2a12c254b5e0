/*
Package scheduler decides once per wall-clock minute which backup jobs are due.

A job's interval is "<N>h" (due when hour%N == 0 at minute 0), "<N>m" (due
when minute%N == 0) or "HH:MM". When the interval matches, the date rule
must match too: "*", a day of month, a weekday ("Mon" or "Monday") or a
month and day ("Jan-1" or "January-1"). Unknown formats are configuration
errors; the job is skipped with a warning and the loop continues.

Due jobs are handed to a JobRunner, normally the supervisor. Errors that
concern a single job are logged. A panic or any other error ends Run with an
errdefs.Catastrophic error after a notification.

Once a day at CheckAt the external checker command runs and run history is
scanned for pairs without a recent success.
*/
package scheduler
