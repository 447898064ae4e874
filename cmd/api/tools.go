package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/sessionid"
)

// sessionIDCmd 打印邮箱对应的会话 ID，便于在 n8n 中排查历史记录。
func sessionIDCmd() *cobra.Command {
	var (
		email     string
		ephemeral bool
		date      string
	)

	cmd := &cobra.Command{
		Use:   "session-id",
		Short: "Print the session ID derived from an email",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
				at = parsed
			}

			derive := sessionid.Persistent
			if ephemeral {
				derive = sessionid.Ephemeral
			}
			id, err := derive(email, at)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "derive a timestamp-based ID instead of today's")
	cmd.Flags().StringVar(&date, "date", "", "UTC date (YYYY-MM-DD) for the persistent ID, defaults to today")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// tokenCmd 签发开发用的会话令牌。
func tokenCmd() *cobra.Command {
	var (
		email string
		name  string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token signed with AUTH_SECRET (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			email = strings.TrimSpace(email)
			token, err := auth.New(cfg.Auth.Secret).Issue(auth.User{Email: email, Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
