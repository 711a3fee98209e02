package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli"
)

var settingsCommand = cli.Command{
	Name:  "settings",
	Usage: "view or change daemon settings",
	Subcommands: []cli.Command{
		{
			Name:  "get",
			Usage: "print current settings",
			Action: func(c *cli.Context) error {
				st, err := newAPIClient().GetSettings()
				if err != nil {
					return classify(err)
				}
				fmt.Printf("%+v\n", *st)
				return nil
			},
		},
		{
			Name:      "set",
			Usage:     "set one or more key=value pairs",
			ArgsUsage: "key=value [key=value...]",
			Action: func(c *cli.Context) error {
				if c.NArg() == 0 {
					return argError(errors.New("settings set requires at least one key=value argument"))
				}
				patch := map[string]any{}
				for _, arg := range c.Args() {
					k, v, ok := strings.Cut(arg, "=")
					if !ok {
						return argError(fmt.Errorf("invalid key=value pair: %q", arg))
					}
					patch[k] = coerce(v)
				}
				st, err := newAPIClient().PatchSettings(patch)
				if err != nil {
					return classify(err)
				}
				fmt.Printf("updated: %+v\n", *st)
				return nil
			},
		},
	},
}

// coerce converts a raw CLI value string to bool/int/float/string so the
// JSON patch body matches the target field's type.
func coerce(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
