// Command glassctl drives a pair of smart glasses from the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "glassctl: %v\n", err)
		os.Exit(1)
	}
}
