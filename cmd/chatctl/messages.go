package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kiprono234/chat-verse/internal/client"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/spf13/cobra"
)

func init() {
	historyCmd.Flags().BoolP("all", "a", false, "include archived messages")
	historyCmd.Flags().String("after", "", "only messages created after this RFC 3339 timestamp")

	sendCmd.Flags().String("sender", "", "display name (ignored when a token is set)")
	sendCmd.Flags().String("avatar", "", "avatar reference")
	sendCmd.Flags().String("file-ref", "", "attachment reference returned by upload")
	sendCmd.Flags().String("file-type", "", "attachment MIME type returned by upload")

	rootCmd.AddCommand(historyCmd, sendCmd, archiveCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the message history oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		afterRaw, _ := cmd.Flags().GetString("after")

		opts := client.ListOptions{IncludeArchived: all}
		if afterRaw != "" {
			after, err := time.Parse(time.RFC3339Nano, afterRaw)
			if err != nil {
				return fmt.Errorf("invalid --after: %w", err)
			}
			opts.After = after
		}

		msgs, err := apiClient(cmd).ListMessages(cmd.Context(), opts)
		if err != nil {
			return err
		}
		for i := range msgs {
			printMessage(cmd.OutOrStdout(), &msgs[i])
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Post a message",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, _ := cmd.Flags().GetString("sender")
		avatar, _ := cmd.Flags().GetString("avatar")
		fileRef, _ := cmd.Flags().GetString("file-ref")
		fileType, _ := cmd.Flags().GetString("file-type")

		req := models.SendMessageRequest{
			Sender:    sender,
			AvatarRef: avatar,
			FileRef:   models.StringPtr(fileRef),
			FileType:  models.StringPtr(fileType),
		}
		if len(args) == 1 {
			req.Text = args[0]
		}

		msg, err := apiClient(cmd).SendMessage(cmd.Context(), req)
		if err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), msg)
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive [id]",
	Short: "Archive a message so it no longer shows in history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[0])
		}
		msg, err := apiClient(cmd).Archive(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived #%d\n", msg.ID)
		return nil
	},
}

func printMessage(w io.Writer, m *models.ChatMessage) {
	flag := ""
	if m.Archived {
		flag = " [archived]"
	}
	fmt.Fprintf(w, "#%d %s %s%s: %s", m.ID, m.CreatedAt.Local().Format(time.DateTime), m.Sender, flag, m.Text)
	if m.HasFile() {
		fmt.Fprintf(w, " <%s %s>", *m.FileType, *m.FileRef)
	}
	fmt.Fprintf(w, " (%s)\n", humanize.Time(m.CreatedAt))
}
