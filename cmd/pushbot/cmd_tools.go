package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"pushbot/internal/config"
	"pushbot/internal/push"
)

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check the config file and exit",
		Action: func(_ context.Context, cmd *cli.Command) error {
			m := config.NewManager(cmd.String("config"))
			cfg, err := m.Load()
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d bot(s), %d owner(s), %d handler config block(s)\n",
				len(cfg.Telegram.EffectiveBots()), len(cfg.Telegram.OwnerUserIDs), len(cfg.Handlers))
			return nil
		},
	}
}

func jobIDCmd() *cli.Command {
	return &cli.Command{
		Name:  "jobid",
		Usage: "Print the job id of a schedule tuple",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "actor", Usage: "bot user id", Required: true},
			&cli.StringFlag{Name: "type", Usage: "GROUP or PRIVATE", Required: true},
			&cli.Int64Flag{Name: "target", Usage: "chat id", Required: true},
			&cli.StringFlag{Name: "key", Usage: "handler key", Required: true},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			t := push.Tuple{
				ActorID:    cmd.Int64("actor"),
				TargetType: push.TargetType(strings.ToUpper(cmd.String("type"))),
				TargetID:   cmd.Int64("target"),
				HandlerKey: cmd.String("key"),
			}.Normalize()
			if err := t.Validate(); err != nil {
				return err
			}
			fmt.Println(push.JobID(t))
			return nil
		},
	}
}
