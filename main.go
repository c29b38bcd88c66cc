// The main package for the findadoc-tester executable.
package main

import (
	"github.com/JakeFAU/findadoc-tester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
