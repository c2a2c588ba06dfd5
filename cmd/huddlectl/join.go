package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagServer string
	flagToken  string
)

type chatFrame struct {
	Type string `json:"type"`
	proto.ChatSendRequest
}

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and print what happens in it",
	Long: `Join a room over the signaling socket. Every frame from the server is
printed as one JSON line. Lines typed on stdin are sent as chat messages.

Examples:
  huddlectl join standup --token "$(huddlectl token alice --secret s3cret)"
  huddlectl join standup --server ws://meet.example.com/api/ws/signal --token ...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := domain.ParseRoomID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		out := cmd.OutOrStdout()
		c := client.New(client.Options{
			URL:     flagServer,
			Room:    room,
			Token:   flagToken,
			Backoff: reconnectPolicy(cmd),
			OnEvent: func(_ proto.Envelope, raw []byte) {
				fmt.Fprintln(out, string(raw))
			},
			OnGiveUp: func(err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "left %s: %v\n", room, err)
			},
		})
		go forwardChat(ctx, c, cmd.InOrStdin())

		err = c.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

// reconnectPolicy takes flags first, then HUDDLE_CLIENT_* from the
// environment, then the client defaults.
func reconnectPolicy(cmd *cobra.Command) client.Backoff {
	v := viper.New()
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("client.reconnect_attempts", client.DefaultMaxAttempts)
	v.SetDefault("client.reconnect_delay", client.DefaultDelay)
	_ = v.BindPFlag("client.reconnect_attempts", cmd.Flags().Lookup("reconnect-attempts"))
	_ = v.BindPFlag("client.reconnect_delay", cmd.Flags().Lookup("reconnect-delay"))
	return client.Backoff{
		MaxAttempts: v.GetInt("client.reconnect_attempts"),
		Delay:       v.GetDuration("client.reconnect_delay"),
	}
}

func forwardChat(ctx context.Context, c *client.Client, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if err := c.Send(chatFrame{Type: proto.TypeChatSend, ChatSendRequest: proto.ChatSendRequest{Text: text}}); err != nil {
			fmt.Fprintln(os.Stderr, "not sent:", err)
		}
	}
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "access token (see huddlectl token)")
	joinCmd.Flags().Int("reconnect-attempts", client.DefaultMaxAttempts, "reconnects before giving up")
	joinCmd.Flags().Duration("reconnect-delay", client.DefaultDelay, "wait between reconnects")
	_ = joinCmd.MarkFlagRequired("token")
}
