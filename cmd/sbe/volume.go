package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage backup volumes",
}

var volumeFormatCmd = &cobra.Command{
	Use:   "format --target NAME",
	Short: "Create and format the backup image of a target",
	Long: `Allocate <backup_dir>/<target>/backups and give it an ext4 filesystem.

When server.config sets ENCRYPTED=true the image is formatted as LUKS2
with a generated passphrase. With --keyserver the passphrase is stored
in the key service and the target switches to remote key retrieval;
otherwise it is written to the local passphrase file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")
		size, _ := cmd.Flags().GetString("size")
		force, _ := cmd.Flags().GetBool("force")
		useKeyServer, _ := cmd.Flags().GetBool("keyserver")
		strict, _ := cmd.Flags().GetBool("strict")
		ctx := cmd.Context()

		host, err := config.LoadHostConfig(cfg.TargetDir(target))
		if err != nil {
			return err
		}

		resolver, err := keys.NewResolverFromConfig(cfg)
		if err != nil {
			return err
		}
		manager := volume.NewManager(cfg.BackupDir, volume.Options{Keys: resolver})
		opts := volume.FormatOptions{Size: size, Encrypted: host.Encrypted, Force: force}

		if host.Encrypted {
			source := types.KeySourceLocalFile
			if useKeyServer {
				source = types.KeySourceRemote
			}
			key, err := keys.Generate(target, source)
			if err != nil {
				return err
			}
			defer key.Destroy()

			if useKeyServer {
				if err := resolver.Provision(ctx, target, key, strict); err != nil {
					return err
				}
				pterm.Success.Printf("Stored passphrase of %s in the key service\n", target)
			} else {
				local, err := keys.NewFileStoreFromConfig(cfg.KeyServer)
				if err != nil {
					return err
				}
				if err := local.Write(cfg.TargetDir(target), key.Bytes()); err != nil {
					return err
				}
				pterm.Success.Printf("Wrote passphrase of %s to %s\n", target, keys.PassphraseFile)
			}
			opts.Key = key
		} else if useKeyServer {
			return fmt.Errorf("%s is not encrypted; --keyserver needs ENCRYPTED=true", target)
		}

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Formatting %s (%s)...", target, sizeOrDefault(size)))
		if err := manager.Format(ctx, target, opts); err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success(fmt.Sprintf("Formatted %s", target))
		return nil
	},
}

func sizeOrDefault(size string) string {
	if size == "" {
		return volume.DefaultImageSize
	}
	return size
}

func init() {
	volumeCmd.AddCommand(volumeFormatCmd)

	volumeFormatCmd.Flags().String("target", "", "Target directory name under the backup directory")
	volumeFormatCmd.Flags().String("size", volume.DefaultImageSize, "Image size passed to fallocate")
	volumeFormatCmd.Flags().Bool("force", false, "Overwrite an existing image")
	volumeFormatCmd.Flags().Bool("keyserver", false, "Store the passphrase in the key service")
	volumeFormatCmd.Flags().Bool("strict", false, "Never fall back to a local passphrase for this target")
	_ = volumeFormatCmd.MarkFlagRequired("target")
}
