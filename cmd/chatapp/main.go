package main

import (
	"os"

	"github.com/Codeblinders/Chat-App/cmd/chatapp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
