package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/paykeeper/internal/recovery"
)

func main() {
	if err := recovery.NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
