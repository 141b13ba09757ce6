// Package main is the entry point for the SD Submit backend.
package main

import (
	"os"

	"github.com/CSCfi/sd-submit/cmd/sd-submit/app"
	"github.com/CSCfi/sd-submit/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
