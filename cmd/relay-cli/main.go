package main

import "chatrelay/cmd/relay-cli/command"

func main() {
	command.Execute()
}
