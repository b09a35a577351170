package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(uploadCmd, presenceCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload an attachment and print its reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		up, err := apiClient(cmd).Upload(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "fileRef:  %s\nfileType: %s\nsize:     %s\n",
			up.FileRef, up.FileType, humanize.Bytes(uint64(up.Size)))
		return nil
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "List who is online",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient(cmd).Presence(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d online\n", len(entries))
		for _, e := range entries {
			fmt.Fprintf(out, "  %s (%s) since %s\n", e.DisplayName, e.Identity, humanize.Time(e.JoinedAt))
		}
		return nil
	},
}
