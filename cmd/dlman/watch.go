package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

// pollInterval is how often watch re-fetches a download's state; the bar
// is driven by polling GET /api/downloads/{id}, not by the /ws stream.
const pollInterval = 400 * time.Millisecond

var watchCommand = cli.Command{
	Name:      "watch",
	Usage:     "show a live progress bar for a download until it finishes",
	ArgsUsage: "<id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return argError(errors.New("watch requires a <id> argument"))
		}
		return watchDownload(id)
	},
}

func watchDownload(id string) error {
	client := newAPIClient()
	d, err := client.GetDownload(id)
	if err != nil {
		return classify(err)
	}

	p := mpb.New(mpb.WithWidth(64))
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	name := d.Filename
	if name == "" {
		name = id
	}
	total := int64(0)
	if d.Size.Known {
		total = d.Size.Bytes
	}
	bar := p.New(total,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(
				decor.EwmaETA(decor.ET_STYLE_GO, 30, decor.WC{W: 4}), "done",
			),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
		),
	)
	bar.SetCurrent(d.Downloaded)
	last := d.Downloaded

	for {
		time.Sleep(pollInterval)
		d, err = client.GetDownload(id)
		if err != nil {
			p.Wait()
			return classify(err)
		}
		if d.Size.Known && d.Size.Bytes != total {
			total = d.Size.Bytes
			bar.SetTotal(total, false)
		}
		if delta := d.Downloaded - last; delta > 0 {
			bar.EwmaIncrInt64(delta, pollInterval)
			last = d.Downloaded
		}
		bar.SetCurrent(d.Downloaded)

		if isTerminalStatus(d.Status) {
			if d.Status == dlcore.StatusCompleted {
				bar.SetTotal(bar.Current(), true)
			}
			break
		}
	}
	p.Wait()

	if d.Status == dlcore.StatusFailed {
		fmt.Printf("%s failed: %s\n", id, d.Error)
		return engineError(fmt.Errorf("download failed: %s", d.Error))
	}
	fmt.Printf("%s: %s\n", id, d.Status)
	return nil
}

func isTerminalStatus(st dlcore.Status) bool {
	switch st {
	case dlcore.StatusCompleted, dlcore.StatusFailed, dlcore.StatusCancelled:
		return true
	default:
		return false
	}
}
