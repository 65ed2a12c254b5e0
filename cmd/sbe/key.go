package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Talk to the key service",
}

func keyClient(cmd *cobra.Command) (*keys.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	client := keys.NewClientFromConfig(cfg.KeyServer)
	if client == nil {
		return nil, nil, errors.New("no key service configured (keyserver.host)")
	}
	return client, cfg, nil
}

var keyHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the key service is healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := keyClient(cmd)
		if err != nil {
			return err
		}
		if err := client.Health(cmd.Context()); err != nil {
			return err
		}
		pterm.Success.Printf("Key service %s is healthy\n", cfg.KeyServer.Host)
		return nil
	},
}

var keyGetCmd = &cobra.Command{
	Use:   "get HOSTNAME",
	Short: "Print the key stored for a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := keyClient(cmd)
		if err != nil {
			return err
		}
		key, err := client.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		km, err := keys.NewKeyMaterial(args[0], types.KeySourceRemote, key)
		if err != nil {
			return err
		}
		defer km.Destroy()
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", km.Bytes())
		return err
	},
}

var keyStoreCmd = &cobra.Command{
	Use:   "store HOSTNAME",
	Short: "Store a key for a host",
	Long: `Store a key for a host. The key is read from --key-file, from stdin
when --key-file is "-", or generated when --generate is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := keyClient(cmd)
		if err != nil {
			return err
		}
		keyFile, _ := cmd.Flags().GetString("key-file")
		generate, _ := cmd.Flags().GetBool("generate")

		var km *keys.KeyMaterial
		switch {
		case generate:
			km, err = keys.Generate(args[0], types.KeySourceRemote)
		case keyFile != "":
			var raw []byte
			raw, err = readKey(cmd, keyFile)
			if err == nil {
				km, err = keys.NewKeyMaterial(args[0], types.KeySourceRemote, raw)
			}
		default:
			return errors.New("either --key-file or --generate is required")
		}
		if err != nil {
			return err
		}
		defer km.Destroy()

		if err := client.Store(cmd.Context(), args[0], km.Bytes()); err != nil {
			return err
		}
		pterm.Success.Printf("Stored key for %s\n", args[0])
		return nil
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete HOSTNAME",
	Short: "Delete the key stored for a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := keyClient(cmd)
		if err != nil {
			return err
		}
		if err := client.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("Deleted key for %s\n", args[0])
		return nil
	},
}

func readKey(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read key from stdin: %w", err)
		}
		return line, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return data, nil
}

func init() {
	keyCmd.AddCommand(keyHealthCmd)
	keyCmd.AddCommand(keyGetCmd)
	keyCmd.AddCommand(keyStoreCmd)
	keyCmd.AddCommand(keyDeleteCmd)

	keyStoreCmd.Flags().String("key-file", "", `File holding the key, "-" for stdin`)
	keyStoreCmd.Flags().Bool("generate", false, "Generate a random key")
}
