// The main package for the jobdiscovery executable.
package main

import (
	"github.com/JakeFAU/jobdiscovery/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
