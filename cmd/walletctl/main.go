package main

import (
	"fmt"
	"os"

	"walletledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
