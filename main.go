// The main package for the outreach executable.
package main

import (
	"os"

	"github.com/JakeFAU/outreach-pipeline/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
