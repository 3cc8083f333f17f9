// Command uba-cli submits a yaml-described build graph to a running
// host and reports progress until every process finishes.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/term"

	"github.com/uba-build/uba/crypto"
	"github.com/uba-build/uba/network"
)

// isTerminal reports whether stdout is an interactive terminal; piped
// or redirected output gets plain progress lines instead of a
// cursor-repositioning bar, matching how the teacher's CLI degrades
// for CI logs.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var buildVersion = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "uba-cli"
	app.Usage = "submit and track a build graph against a uba-host"
	app.Version = buildVersion
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "connect", Usage: "host address, e.g. host:7000"},
		cli.StringFlag{Name: "crypto", Usage: "hex-encoded AES-128 key; must match the host"},
	}
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "submit a build graph and wait for it to finish",
			ArgsUsage: "GRAPH.yaml",
			Action:    runHandler,
		},
		{
			Name:   "status",
			Usage:  "print the host's current scheduler counters once",
			Action: statusHandler,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func dial(c *cli.Context) (*ubaClient, error) {
	addr := c.GlobalString("connect")
	if addr == "" {
		return nil, fmt.Errorf("-connect is required")
	}
	var cryptoKey *crypto.Key
	if hexKey := c.GlobalString("crypto"); hexKey != "" {
		k, err := crypto.ParseKeyHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("crypto: %w", err)
		}
		cryptoKey = k
	}
	return dialHost(addr, network.ClientConfig{CryptoKey: cryptoKey}, 30*time.Second)
}

func runHandler(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one graph file argument")
	}
	g, err := loadGraph(c.Args().Get(0))
	if err != nil {
		return err
	}
	order, err := topoSort(g)
	if err != nil {
		return err
	}
	nodes := buildSubmission(g, order)
	if len(nodes) == 0 {
		return fmt.Errorf("graph has no processes")
	}

	uc, err := dial(c)
	if err != nil {
		return err
	}
	defer uc.close()

	ids, err := uc.submit(nodes)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	total := int64(len(ids))
	fmt.Printf("submitted %d processes\n", total)

	interactive := isTerminal()
	var progress *mpb.Progress
	var bar *mpb.Bar
	if interactive {
		progress = mpb.New(mpb.WithWidth(64))
		text := "building: "
		bar = progress.AddBar(total,
			mpb.PrependDecorators(
				decor.Name(text, decor.WC{W: len(text) + 2, C: decor.DSyncWidthR}),
				decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
		)
	}

	var lastFinished int64
	for lastFinished < total {
		time.Sleep(500 * time.Millisecond)
		sum, err := uc.summary()
		if err != nil {
			return fmt.Errorf("polling summary: %w", err)
		}
		for ; lastFinished < sum.Finished; lastFinished++ {
			if interactive {
				bar.Increment()
			}
		}
		if !interactive {
			fmt.Printf("progress: %d/%d\n", sum.Finished, total)
		}
		if sum.Finished >= total {
			break
		}
	}
	if interactive {
		progress.Wait()
	}

	fmt.Println(color.GreenString("build complete: %d processes finished", total))
	return nil
}

func statusHandler(c *cli.Context) error {
	uc, err := dial(c)
	if err != nil {
		return err
	}
	defer uc.close()
	sum, err := uc.summary()
	if err != nil {
		return err
	}
	fmt.Printf("queued=%d local=%d remote=%d finished=%d\n", sum.Queued, sum.Local, sum.Remote, sum.Finished)
	return nil
}
