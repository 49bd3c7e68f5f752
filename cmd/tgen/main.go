package main

import (
	"fmt"
	"os"
	"time"

	"github.com/atsika/tgen"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tgen",
		Usage: "run a traffic generator action graph",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "graph",
				Aliases:  []string{"g"},
				Usage:    "path to a YAML action-graph fixture",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "heartbeat",
				Usage: "heartbeat cadence used when the graph's start action sets none",
				Value: tgen.DefaultHeartbeatInterval,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tgen:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	graph, err := loadGraphFile(c.String("graph"))
	if err != nil {
		return err
	}

	driver, err := tgen.New(graph, tgen.WithHeartbeat(c.Duration("heartbeat")))
	if err != nil {
		return fmt.Errorf("build driver: %w", err)
	}

	for !driver.ServerHasEnded() {
		if err := driver.Activate(); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		if driver.HasEnded() {
			// Keep serving inbound work briefly after the client side
			// ends, matching the original's "we are still running and
			// the heartbeat timer still owns a driver ref" comment.
			time.Sleep(10 * time.Millisecond)
		}
	}
	return nil
}
