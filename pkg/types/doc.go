/*
Package types defines the data model shared by every SBE component.

# Core Types

Jobs:
  - JobDefinition: one configured backup job (target, trigger rule, class, retention)
  - JobClass: retention tier (daily, weekly, monthly, yearly, latest)
  - JobKey: the (target, class) pair the queue de-duplicates on

Queue:
  - QueueEntry: a PENDING or RUNNING job owned by a process ID
  - CompletionRecord: append-only record of a finished job with its Outcome

Volumes and keys:
  - VolumeState: CLOSED, OPEN or MOUNTED
  - KeySource / KeyMode: where a passphrase came from and how it was resolved
  - HostConfig: per-target settings read from server.config

History:
  - RunStats: last start, last finish and failure streak per (target, class)

JobDefinition carries yaml tags matching the legacy backup.yaml keys
("backupdirectory", "intervall", "date", "type", "retention") and validator
tags checked by the config package.
*/
package types
