package main

import (
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/spf13/cobra"
)

var (
	flagSecret string
	flagIssuer string
	flagEmail  string
	flagTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint an access token",
	Long: `Mint an HS256 access token the server will accept.

Examples:
  huddlectl token alice --secret "$HUDDLE_AUTH_SECRET"
  huddlectl token bob --email bob@example.com --ttl 15m --secret s3cret`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := domain.NewIdentity(args[0], flagEmail)
		if err != nil {
			return err
		}
		h, err := auth.NewHMAC(flagSecret, flagIssuer, nil)
		if err != nil {
			return err
		}
		tok, err := h.Mint(id, flagTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagSecret, "secret", "", "HMAC secret shared with the server (auth.secret)")
	tokenCmd.Flags().StringVar(&flagIssuer, "issuer", "huddle", "token issuer (auth.issuer)")
	tokenCmd.Flags().StringVar(&flagEmail, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", time.Hour, "token lifetime")
}
