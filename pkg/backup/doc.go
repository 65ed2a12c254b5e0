/*
Package backup implements the work of a single sbe-worker invocation.

A run loads the target's server.config, makes sure the backup volume is
mounted, pulls the remote share with rsync into a fresh snapshot directory

	<backup dir>/<target>/.mounted/<class>/<YYYYmmdd_HHMMSS>

and writes backup_info.txt next to the data. When a retention count is given,
only that many snapshots of the class are kept, newest by name first.

The worker unmounts the volume only if it mounted it. A volume that was
already mounted, usually by the scheduler holding it for concurrent runs of
the same target, is left alone.
*/
package backup
