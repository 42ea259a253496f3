// testclient submits a mail through a running server and follows its log
// until delivery finishes. Point it at a local server using the log provider
// to exercise the full pipeline end-to-end.
//
// Usage:
//
//	go run ./cmd/testclient welcome alice@example.com --name Alice
//	go run ./cmd/testclient invitation bob@example.com --org "Acme Corp"
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	mailer "github.com/gsarma/mailer/sdk"
)

type options struct {
	server  string
	apiKey  string
	userID  string
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "testclient",
		Short:         "Send a mail through the API and wait for delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("MAILER_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("MAILER_API_KEY"), "Bearer API key")
	root.PersistentFlags().StringVar(&opts.userID, "user-id", "", "Optional user id to attach to the log")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "How long to wait for delivery")

	var name string
	welcome := &cobra.Command{
		Use:   "welcome EMAIL",
		Short: "Send a welcome mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			entry, err := client.Mail.SendWelcome(cmd.Context(), mailer.WelcomeRequest{
				Email:  args[0],
				Name:   name,
				UserID: opts.userID,
			})
			if err != nil {
				return err
			}
			return follow(cmd, client, entry, opts.timeout)
		},
	}
	welcome.Flags().StringVar(&name, "name", "", "Recipient name")

	var inviter, org, inviteURL string
	var validFor time.Duration
	invitation := &cobra.Command{
		Use:   "invitation EMAIL",
		Short: "Send an invitation mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			entry, err := client.Mail.SendInvitation(cmd.Context(), mailer.InvitationRequest{
				Email:            args[0],
				InviterName:      inviter,
				OrganizationName: org,
				InviteURL:        inviteURL,
				ExpiresAt:        time.Now().Add(validFor),
				UserID:           opts.userID,
			})
			if err != nil {
				return err
			}
			return follow(cmd, client, entry, opts.timeout)
		},
	}
	invitation.Flags().StringVar(&inviter, "inviter", "Test Client", "Inviter name")
	invitation.Flags().StringVar(&org, "org", "", "Organization name")
	invitation.Flags().StringVar(&inviteURL, "url", "http://localhost:3000/invite/test", "Invitation link")
	invitation.Flags().DurationVar(&validFor, "valid-for", 7*24*time.Hour, "Invitation lifetime")

	root.AddCommand(welcome, invitation)
	return root
}

func (o *options) client() *mailer.Client {
	return mailer.New(o.server, o.apiKey)
}

// follow polls the log until it is SENT or FAILED.
func follow(cmd *cobra.Command, client *mailer.Client, entry *mailer.MailLog, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "queued %s: %q (%s)\n", entry.ID, entry.Subject, entry.Status)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastRetries := 0
	for !entry.Done() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for %s: %w", entry.ID, ctx.Err())
		case <-ticker.C:
		}
		var err error
		if entry, err = client.Mail.GetLog(ctx, entry.ID); err != nil {
			return err
		}
		if entry.RetryCount != lastRetries {
			lastRetries = entry.RetryCount
			fmt.Fprintf(out, "attempt failed (%d so far): %s\n", entry.RetryCount, entry.ErrorMessage)
		}
	}

	if entry.Status == mailer.StatusFailed {
		return errors.New("delivery failed: " + entry.ErrorMessage)
	}
	fmt.Fprintf(out, "sent at %s, provider message id %s\n", entry.SentAt.Format(time.RFC3339), entry.ProviderMessageID)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
