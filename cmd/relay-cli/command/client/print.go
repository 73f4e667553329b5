package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"chatrelay/internal/microservices/tcp"
	"chatrelay/internal/relay"

	"github.com/fatih/color"
)

var (
	systemColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	chatColor   = color.New(color.FgCyan)
)

// PrintMessage pretty prints one relayed message
func PrintMessage(out io.Writer, text string) {
	switch {
	case text == relay.WelcomeText || text == tcp.ShutdownNotice:
		systemColor.Fprintf(out, "🔔 %s\n", text)
	case strings.HasPrefix(text, "error: "):
		errorColor.Fprintf(out, "⚠ %s\n", strings.TrimPrefix(text, "error: "))
	default:
		chatColor.Fprintln(out, text)
	}
}

// scanLines feeds stdin lines to lines until EOF or stop
func scanLines(in io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}

func printBanner(out io.Writer, target string) {
	fmt.Fprintf(out, "\n🔌 Connecting to %s...\n", target)
}
