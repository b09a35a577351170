package main

import (
	"fmt"
	"os"

	"github.com/kiprono234/chat-verse/internal/client"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Command line client for the chat server",
	Long: `chatctl reads history, posts messages, uploads attachments and
inspects presence on a running chat server over its REST API.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("server", "s", envOr("CHAT_SERVER", "http://localhost:8080"), "chat server base URL")
	rootCmd.PersistentFlags().StringP("token", "t", os.Getenv("CHAT_TOKEN"), "bearer token for authenticated servers")
}

// apiClient builds a REST client from the persistent flags.
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")

	c := client.New(server)
	if token != "" {
		c.SetToken(token)
	}
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
