package main

import (
	"fmt"
	"os"

	"github.com/akmukhi/developer-self-service/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
