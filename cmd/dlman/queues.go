package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

var queuesCommand = cli.Command{
	Name:  "queues",
	Usage: "manage download queues",
	Subcommands: []cli.Command{
		{
			Name:  "list",
			Usage: "list queues",
			Action: func(c *cli.Context) error {
				queues, err := newAPIClient().Queues()
				if err != nil {
					return classify(err)
				}
				for _, q := range queues {
					fmt.Printf("%s  %-20s max=%d limit=%d\n", q.ID, q.Name, q.MaxConcurrent, q.SpeedLimit)
				}
				return nil
			},
		},
		{
			Name:      "create",
			Usage:     "create a queue",
			ArgsUsage: "<name>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "max-concurrent", Value: 1},
				cli.StringFlag{Name: "speed-limit", Usage: "e.g. 512KB, 0 for unlimited"},
			},
			Action: func(c *cli.Context) error {
				name := c.Args().First()
				if name == "" {
					return argError(errors.New("queues create requires a <name> argument"))
				}
				limit, err := dlcore.ParseSpeedLimit(c.String("speed-limit"))
				if err != nil {
					return argError(err)
				}
				q := &dlcore.Queue{Name: name, MaxConcurrent: c.Int("max-concurrent"), SpeedLimit: limit}
				created, err := newAPIClient().CreateQueue(q)
				if err != nil {
					return classify(err)
				}
				fmt.Println("created queue", created.ID)
				return nil
			},
		},
		{
			Name:      "delete",
			Usage:     "delete a queue",
			ArgsUsage: "<id>",
			Action: func(c *cli.Context) error {
				id := c.Args().First()
				if id == "" {
					return argError(errors.New("queues delete requires a <id> argument"))
				}
				if err := newAPIClient().DeleteQueue(id); err != nil {
					return classify(err)
				}
				fmt.Println("deleted queue", id)
				return nil
			},
		},
		{
			Name:      "start",
			Usage:     "clear a queue's manual pause so its schedule applies again",
			ArgsUsage: "<id>",
			Action:    queueStartStop(true),
		},
		{
			Name:      "stop",
			Usage:     "pause a queue regardless of its schedule window",
			ArgsUsage: "<id>",
			Action:    queueStartStop(false),
		},
	},
}

func queueStartStop(start bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return argError(errors.New("queue id is required"))
		}
		if err := newAPIClient().QueueStartStop(id, start); err != nil {
			return classify(err)
		}
		verb := "stopped"
		if start {
			verb = "started"
		}
		fmt.Println(verb, "queue", id)
		return nil
	}
}
