package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kiprono234/chat-verse/internal/auth"
	"github.com/spf13/cobra"
)

func init() {
	tokenCmd.Flags().String("key", os.Getenv("AUTH_KEY"), "HMAC signing key shared with the server")
	tokenCmd.Flags().String("name", "", "display name claim")
	tokenCmd.Flags().String("picture", "", "avatar reference claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Mint a signed token for a server running with AUTH_KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			return errors.New("--key or AUTH_KEY is required")
		}
		name, _ := cmd.Flags().GetString("name")
		picture, _ := cmd.Flags().GetString("picture")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.NewJWT(key, auth.DefaultIssuer).Issue(auth.Identity{
			Subject:     args[0],
			DisplayName: name,
			AvatarRef:   picture,
		}, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
