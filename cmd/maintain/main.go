package main

import (
	"github.com/platformsre/patchrun/internal/cli"
)

func main() {
	cli.Execute()
}
