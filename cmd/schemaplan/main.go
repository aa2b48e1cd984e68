package main

import (
	"os"

	"schemaplan/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
