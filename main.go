package main

import (
	"os"

	"github.com/jandubois/omnicube-probe/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
