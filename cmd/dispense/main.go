// Command dispense consolidates cherry-pick transfer lists into multi-dispense
// batches, plans them for a pipette and runs them on a simulated liquid
// handler while keeping a history of runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
