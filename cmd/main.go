package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// VERSION is filled at compile time
var VERSION = "undefined"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "procnet"
	app.Usage = "Per-process network traffic monitor."
	app.Version = VERSION
	app.Commands = commands()
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
