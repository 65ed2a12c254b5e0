/*
Package volume manages the backup image of each target.

A target directory holds the image file "backups", the mount point
".mounted" and, for encrypted targets, the persisted device-mapper name in
"device_name". Volume is a tagged variant: PlainVolume mounts the image
directly, EncryptedVolume opens it with cryptsetup first and mounts
/dev/mapper/<name>.

# Device names

The mapper name is read from device_name or derived as
sbe_<md5(target)[:8]>_mapper. Before opening, the live `dmsetup ls` table is
consulted; a name held by a different image (per `cryptsetup status`) is
cleaned up with umount, luksClose and `dmsetup remove -f`. If the name
cannot be freed a new one is generated from the target, a UUID and the
current time, persisted, and the open is retried once. A second failure is
an errdefs.Collision error.

# Commands

Every primitive runs through a Runner so tests can script outcomes:

	mgr := volume.NewManager("/opt/SBE/backup", volume.Options{Keys: resolver})
	res, err := mgr.Mount(ctx, "web01")
	if err != nil {
		return err
	}
	defer mgr.Unmount(ctx, "web01")

Non-zero exits surface as errdefs.ExternalTool errors carrying stderr.
Nothing is retried except the single collision retry.
*/
package volume
