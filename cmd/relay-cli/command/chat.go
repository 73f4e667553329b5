package command

import (
	"os"
	"os/signal"

	c "chatrelay/cmd/relay-cli/command/client"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat over the relay WebSocket endpoint",
	Long: `Connects to the relay WebSocket endpoint, prints incoming messages and
sends every line typed on stdin. Type /quit to exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL, _ := cmd.Flags().GetString("url")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return c.ChatWS(ctx, wsURL, os.Stdin, os.Stdout)
	},
}

var tcpCmd = &cobra.Command{
	Use:   "tcp",
	Short: "Chat over the relay TCP line protocol",
	Long: `Connects to the relay TCP listener, one message per line. Type /quit to exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return c.ChatTCP(ctx, addr, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tcpCmd)

	chatCmd.Flags().StringP("url", "u", "ws://localhost:8080/ws", "relay WebSocket URL")
	tcpCmd.Flags().StringP("addr", "a", "localhost:8081", "relay TCP address")
}
