package main

import (
	"os"

	"github.com/Codeblinders/Chat-App/cmd/chatappd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
