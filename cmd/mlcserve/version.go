package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Notborntodie/mlc-llm/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println(version.String())
			return nil
		},
	}
}
