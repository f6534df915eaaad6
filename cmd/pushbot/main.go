package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/urfave/cli/v3"

	"pushbot/internal/config"
)

func main() {
	// A missing .env is fine; a broken one is not.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: .env:", err)
		os.Exit(1)
	}

	cmd := &cli.Command{
		Name:  "pushbot",
		Usage: "Scheduled push jobs for Telegram bots",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config (.json, .yaml or .yml)",
				Value:   "./config.json",
				Sources: cli.EnvVars(config.EnvConfigPath),
			},
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			runCmd(),
			validateCmd(),
			jobIDCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
