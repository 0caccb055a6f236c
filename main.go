package main

import (
	"os"

	"github.com/vuorinet/spot-is-a-dog/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
