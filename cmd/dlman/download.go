package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

var addCommand = cli.Command{
	Name:      "add",
	Usage:     "add a new download",
	ArgsUsage: "<url>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "to", Usage: "destination directory"},
		cli.StringFlag{Name: "queue", Usage: "queue id"},
		cli.IntFlag{Name: "segments", Usage: "number of segments to split into, 1-16 (default: settings.default_segments)"},
		cli.StringFlag{Name: "priority", Usage: "low, normal, or high (default normal)"},
	},
	Action: func(c *cli.Context) error {
		url := c.Args().First()
		if url == "" {
			return argError(errors.New("add requires a <url> argument"))
		}
		req := map[string]any{"url": url}
		if to := c.String("to"); to != "" {
			req["destination"] = to
		}
		if q := c.String("queue"); q != "" {
			req["queue_id"] = q
		}
		if n := c.Int("segments"); n > 0 {
			req["segments"] = n
		}
		if p := c.String("priority"); p != "" {
			switch p {
			case "low", "normal", "high":
				req["priority"] = p
			default:
				return argError(fmt.Errorf("priority must be low, normal, or high, got %q", p))
			}
		}
		d, err := newAPIClient().AddDownload(req)
		if err != nil {
			return classify(err)
		}
		fmt.Printf("added %s (%s)\n", d.ID, d.URL)
		return nil
	},
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list downloads",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "status", Usage: "filter by status"},
	},
	Action: func(c *cli.Context) error {
		downloads, err := newAPIClient().ListDownloads(c.String("status"))
		if err != nil {
			return classify(err)
		}
		for _, d := range downloads {
			size := "unknown"
			if d.Size.Known {
				size = humanize.Bytes(uint64(d.Size.Bytes))
			}
			fmt.Printf("%s  %-12s %-10s %s/%s  %s\n", d.ID, d.Status, shortQueue(d.QueueID), humanize.Bytes(uint64(d.Downloaded)), size, d.Filename)
		}
		return nil
	},
}

func shortQueue(id string) string {
	if id == "" {
		return dlcore.DefaultQueueID
	}
	return id
}

var removeCommand = cli.Command{
	Name:      "remove",
	Usage:     "remove a download",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "delete-file", Usage: "also delete the downloaded file"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return argError(errors.New("remove requires a <id> argument"))
		}
		if err := newAPIClient().Remove(id, c.Bool("delete-file")); err != nil {
			return classify(err)
		}
		fmt.Println("removed", id)
		return nil
	},
}

// actionCommand builds a pause/resume/cancel/retry command: each is a
// one-argument POST to /api/downloads/{id}/{verb}.
func actionCommand(verb string) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return argError(fmt.Errorf("%s requires a <id> argument", verb))
		}
		d, err := newAPIClient().Action(verb, id)
		if err != nil {
			return classify(err)
		}
		fmt.Printf("%s: %s is now %s\n", verb, d.ID, d.Status)
		return nil
	}
}
