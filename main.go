// The main package for the harvester executable.
package main

import (
	"github.com/fscwatch/harvester/cmd"
)

func main() {
	cmd.Execute()
}
