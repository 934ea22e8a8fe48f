// tsctl is a thin interactive harness over engine.Engine, grounded on
// the teacher's cmd/cli subcommand shape (urfave/cli.App with one
// cli.Command per verb) and cmd/aisnodeprofile's flag-parsing main.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/cmn"
	"github.com/vktsdb/tsengine/engine"
	"github.com/vktsdb/tsengine/index"
	"github.com/vktsdb/tsengine/sample"
	"github.com/vktsdb/tsengine/series"
)

func main() {
	os.Exit(run())
}

func run() int {
	eng := engine.New()
	cfg := cmn.DefaultConfig()

	app := cli.NewApp()
	app.Name = "tsctl"
	app.Usage = "command-line harness over an in-process tsengine instance"
	app.Commands = []cli.Command{
		createCmd(eng, cfg),
		addCmd(eng),
		getCmd(eng),
		rangeCmd(eng),
		delCmd(eng),
		ruleCmd(eng),
		queryCmd(eng),
		infoCmd(eng),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tsctl:", err)
		return 1
	}
	return 0
}

func createCmd(eng *engine.Engine, cfg *cmn.Config) cli.Command {
	return cli.Command{
		Name:      "create",
		Usage:     "create a new series",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			cli.Int64Flag{Name: "retention-ms", Value: 0},
			cli.BoolFlag{Name: "uncompressed"},
		},
		Action: func(c *cli.Context) error {
			key := c.Args().First()
			if key == "" {
				return cli.NewExitError("missing KEY", 1)
			}
			opts := series.DefaultOptions()
			opts.RetentionMS = c.Int64("retention-ms")
			opts.Compressed = !c.Bool("uncompressed")
			id, err := eng.Create(key, engine.CreateOptions{Series: opts}, cfg)
			if err != nil {
				return err
			}
			fmt.Printf("created %q (id=%d)\n", key, id)
			return nil
		},
	}
}

func addCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:      "add",
		Usage:     "append one sample",
		ArgsUsage: "KEY TIMESTAMP VALUE",
		Action: func(c *cli.Context) error {
			args := c.Args()
			if len(args) < 3 {
				return cli.NewExitError("usage: add KEY TIMESTAMP VALUE", 1)
			}
			ts, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			v, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return err
			}
			s, err := eng.Add(args[0], ts, v, nil)
			if err != nil {
				return err
			}
			fmt.Printf("%d %g\n", s.Timestamp, s.Value)
			return nil
		},
	}
}

func getCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:      "get",
		Usage:     "fetch the most recent sample",
		ArgsUsage: "KEY",
		Flags:     []cli.Flag{cli.BoolFlag{Name: "latest"}},
		Action: func(c *cli.Context) error {
			key := c.Args().First()
			s, ok := eng.Get(key, c.Bool("latest"))
			if !ok {
				fmt.Println("(empty)")
				return nil
			}
			fmt.Printf("%d %g\n", s.Timestamp, s.Value)
			return nil
		},
	}
}

func rangeCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:      "range",
		Usage:     "scan a time range",
		ArgsUsage: "KEY FROM TO",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "reverse"},
			cli.IntFlag{Name: "count", Value: 0},
		},
		Action: func(c *cli.Context) error {
			args := c.Args()
			if len(args) < 3 {
				return cli.NewExitError("usage: range KEY FROM TO", 1)
			}
			from, _ := strconv.ParseInt(args[1], 10, 64)
			to, _ := strconv.ParseInt(args[2], 10, 64)
			dir := sample.Forward
			if c.Bool("reverse") {
				dir = sample.Reverse
			}
			samples, err := eng.Range(args[0], engine.RangeOptions{
				From: from, To: to, Direction: dir, Count: c.Int("count"),
			})
			if err != nil {
				return err
			}
			for _, s := range samples {
				fmt.Printf("%d %g\n", s.Timestamp, s.Value)
			}
			return nil
		},
	}
}

func delCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:      "del",
		Usage:     "remove samples in [FROM, TO]",
		ArgsUsage: "KEY FROM TO",
		Action: func(c *cli.Context) error {
			args := c.Args()
			if len(args) < 3 {
				return cli.NewExitError("usage: del KEY FROM TO", 1)
			}
			from, _ := strconv.ParseInt(args[1], 10, 64)
			to, _ := strconv.ParseInt(args[2], 10, 64)
			n, err := eng.Del(args[0], from, to)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d samples\n", n)
			return nil
		},
	}
}

func ruleCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:  "rule",
		Usage: "manage compaction rules",
		Subcommands: []cli.Command{
			{
				Name:      "create",
				ArgsUsage: "SRC DEST AGG BUCKET_MS [ALIGN_TS]",
				Action: func(c *cli.Context) error {
					args := c.Args()
					if len(args) < 4 {
						return cli.NewExitError("usage: rule create SRC DEST AGG BUCKET_MS [ALIGN_TS]", 1)
					}
					kind, err := agg.ParseKind(args[2])
					if err != nil {
						return err
					}
					bucketMS, err := strconv.ParseInt(args[3], 10, 64)
					if err != nil {
						return err
					}
					var alignTS int64
					if len(args) > 4 {
						alignTS, _ = strconv.ParseInt(args[4], 10, 64)
					}
					return eng.CreateRule(args[0], args[1], kind, bucketMS, alignTS, agg.Params{WindowMS: bucketMS})
				},
			},
			{
				Name:      "delete",
				ArgsUsage: "SRC DEST",
				Action: func(c *cli.Context) error {
					args := c.Args()
					if len(args) < 2 {
						return cli.NewExitError("usage: rule delete SRC DEST", 1)
					}
					return eng.DeleteRule(args[0], args[1])
				},
			},
		},
	}
}

func queryCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:      "query",
		Usage:     "list keys matching label=value pairs (AND-ed)",
		ArgsUsage: "label=value [label=value ...]",
		Action: func(c *cli.Context) error {
			var group index.AndGroup
			for _, arg := range c.Args() {
				name, value, ok := strings.Cut(arg, "=")
				if !ok {
					return cli.NewExitError("expected label=value, got "+arg, 1)
				}
				group.Matchers = append(group.Matchers, index.Matcher{
					Label:     name,
					Predicate: index.Predicate{Kind: index.PredEqual, Value: value},
				})
			}
			keys := eng.QueryIndex(index.Selector{Groups: []index.AndGroup{group}})
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func infoCmd(eng *engine.Engine) cli.Command {
	return cli.Command{
		Name:      "info",
		Usage:     "print series metadata",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			info, err := eng.Info(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Printf("total_samples=%d first_ts=%d last=%d:%g chunks=%d rules=%d destination=%v\n",
				info.TotalSamples, info.FirstTimestamp, info.LastSample.Timestamp, info.LastSample.Value,
				info.NumChunks, info.NumRules, info.IsDestination)
			return nil
		},
	}
}
