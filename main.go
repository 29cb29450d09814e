package main

import (
	"fmt"
	"os"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/bootstrap"
)

func main() {
	if err := bootstrap.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "capture-ingest: %v\n", err)
		os.Exit(1)
	}
}
