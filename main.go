// The main package for the mapindexer executable.
package main

import (
	"github.com/JakeFAU/sc2-map-indexer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
