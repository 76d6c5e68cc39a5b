// Package main is the calibrate command.
package main

import (
	"log"
	"os"

	"github.com/etnalab/triangulation/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
