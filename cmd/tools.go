package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	app := &cli.App{
		Name:                 "Bilive Relay Tools",
		Usage:                "bilibili live relay tools",
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			WashApp.Command(),
			WatchApp.Command(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		klog.Fatal(err)
	}
}
