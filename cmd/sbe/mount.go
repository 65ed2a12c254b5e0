package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var mountCmd = &cobra.Command{
	Use:   "mount --target NAME",
	Short: "Mount the backup volume of a target",
	Long: `Mount the backup volume of a target at <backup_dir>/<target>/.mounted.

Encrypted volumes are opened first, with the passphrase resolved from the
key service or the local passphrase file. The job class directories are
created after mounting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")

		manager, err := newVolumeManager(cfg)
		if err != nil {
			return err
		}
		res, err := manager.Mount(cmd.Context(), target)
		if err != nil {
			return err
		}
		if err := manager.InitializeLayout(cmd.Context(), target); err != nil {
			return err
		}

		if res.AlreadyMounted {
			pterm.Info.Printf("%s is already mounted at %s\n", target, res.MountPoint)
			return nil
		}
		if res.DeviceName != "" {
			pterm.Success.Printf("Mounted %s at %s (device %s)\n", target, res.MountPoint, res.DeviceName)
			return nil
		}
		pterm.Success.Printf("Mounted %s at %s\n", target, res.MountPoint)
		return nil
	},
}

var umountCmd = &cobra.Command{
	Use:     "umount --target NAME",
	Aliases: []string{"unmount"},
	Short:   "Unmount (and close) the backup volume of a target",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")

		manager, err := newVolumeManager(cfg)
		if err != nil {
			return err
		}
		if err := manager.Unmount(cmd.Context(), target); err != nil {
			return err
		}
		pterm.Success.Printf("Unmounted %s\n", target)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{mountCmd, umountCmd} {
		cmd.Flags().String("target", "", "Target directory name under the backup directory")
		_ = cmd.MarkFlagRequired("target")
	}
}
