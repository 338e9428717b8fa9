package main

import (
	"os"

	"github.com/pfrederiksen/city-events/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
