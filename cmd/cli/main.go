package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dzaharov/passvault/internal/client/cli"
)

func main() {
	app := cli.NewApp()
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
