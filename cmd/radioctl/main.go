// Command radioctl is the operator CLI for a running radiod-style
// engine: it queries the status reporter's HTTP API and inspects
// mode-files. Adapted from the teacher's cmd/ir-convert, restructured
// around spf13/cobra subcommands in the style of the pack's
// go-sq-decoder/cmd package (root command + PersistentFlags + one
// cobra.Command per verb) rather than ir-convert's single flag.Parse
// entry point.
package main

import (
	"fmt"
	"os"

	"github.com/jhunley/ka9q-radio/cmd/radioctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
