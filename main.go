package main

import (
	"os"

	"github.com/danthegoodman1/deltabase/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
