package main

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

func bestCmd() *cli.Command {
	return &cli.Command{
		Name:      "best",
		Usage:     "Print the best configuration recorded in a tuning cache",
		ArgsUsage: "<cache-file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one cache file argument")
			}

			_, records, err := readCache(cmd.Args().First())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("cache holds no records yet")
			}

			best := records[0]
			for _, r := range records[1:] {
				if r.Performance > best.Performance {
					best = r
				}
			}

			out, err := json.MarshalIndent(json.RawMessage(best.Config), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
