package main

import (
	"context"
	"os"

	"github.com/DefangLabs/defang-launcher/cmd"
)

var (
	// Version and Commit are set during build
	version = "dev"
	commit  = "none"
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	os.Exit(cmd.Execute(context.Background()))
}
