package main

import (
	"os"

	"github.com/riverlane/fhirjob/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
