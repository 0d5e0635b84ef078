package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/gita-chat/backend/internal/client"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		server  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask the Bhagavad Gita knowledge base through the relay",
		Long: "With a question argument, sends it and prints the streamed answer.\n" +
			"Without one, starts an interactive session. Type /clear to start over and /quit to exit.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			ctrl := client.NewController(server, nil)
			conv := client.NewConversation()
			ctrl.OnUpdate = printer(cmd.OutOrStdout())

			if len(args) > 0 {
				return ctrl.Send(ctx, conv, strings.Join(args, " "))
			}
			return repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), ctrl, conv)
		},
	}

	defaultServer := os.Getenv("CHAT_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "relay base URL")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log client errors")

	return cmd
}

// printer writes the new suffix of the streaming assistant turn on every update.
func printer(out io.Writer) func(*client.Conversation) {
	var printed int
	return func(conv *client.Conversation) {
		if len(conv.Turns) == 0 {
			printed = 0
			return
		}
		last := conv.Turns[len(conv.Turns)-1]
		if last.Content == client.ErrorMessage && !last.Streaming {
			fmt.Fprintf(out, "\n%s\n", last.Content)
			printed = 0
			return
		}
		if len(last.Content) > printed {
			fmt.Fprint(out, last.Content[printed:])
			printed = len(last.Content)
		} else if len(last.Content) < printed {
			printed = 0
		}
		if !last.Streaming && printed > 0 {
			fmt.Fprintln(out)
			printed = 0
		}
	}
}

func repl(ctx context.Context, in io.Reader, out io.Writer, ctrl *client.Controller, conv *client.Conversation) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			if err := ctrl.Clear(ctx, conv); err != nil {
				log.Debug().Err(err).Msg("clear failed")
			}
			fmt.Fprintln(out, "(conversation cleared)")
			continue
		}

		if err := ctrl.Send(ctx, conv, line); err != nil {
			log.Debug().Err(err).Msg("send failed")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
