// Command uba-helper runs the remote execution agent: it connects to a
// host, pulls queued processes, resolves their inputs through content-
// addressed storage, executes them, and ships results back.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/config"
	"github.com/uba-build/uba/coordinator"
	"github.com/uba-build/uba/crypto"
	"github.com/uba-build/uba/network"
	"github.com/uba-build/uba/session"
)

const (
	pollDelay    = 500 * time.Millisecond
	backoffDelay = 3 * time.Second
)

var buildVersion = "dev"

type cliFlags struct {
	connect     string
	dir         string
	workdir     string
	maxcpu      int
	poolSize    int
	cryptoHex   string
	zone        string
	configPath  string
	showVersion bool
}

var cli cliFlags

func init() {
	flag.StringVar(&cli.connect, "connect", "", "host address to connect to, e.g. host:7000")
	flag.StringVar(&cli.dir, "dir", "", "root directory for the local CAS store")
	flag.StringVar(&cli.workdir, "workdir", "", "scratch directory processes run in (defaults under -dir)")
	flag.IntVar(&cli.maxcpu, "maxcpu", 0, "max concurrent executions (0 = all cores)")
	flag.IntVar(&cli.poolSize, "poolsize", 0, "connections to keep open to the host (0 = default)")
	flag.StringVar(&cli.cryptoHex, "crypto", "", "hex-encoded AES-128 key; must match the host")
	flag.StringVar(&cli.zone, "zone", "", "availability zone hint; auto-detected against cloud metadata if empty")
	flag.StringVar(&cli.configPath, "config", "", "path to a saved config file")
	flag.BoolVar(&cli.showVersion, "version", false, "print version and exit")
}

func main() {
	flag.Parse()
	if cli.showVersion {
		fmt.Println("uba-helper", buildVersion)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		nlog.Errorln("config:", err)
		os.Exit(-1)
	}
	cfg.SetRole("helper")
	if err := cfg.Validate(); err != nil {
		nlog.Errorln("config:", err)
		os.Exit(-1)
	}

	os.Exit(run(cfg))
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cli.configPath != "" {
		cfg, err = config.Load(cli.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if cli.connect != "" {
		cfg.Helper.HostAddr = cli.connect
	}
	if cli.dir != "" {
		cfg.Storage.RootDir = cli.dir
	}
	if cli.workdir != "" {
		cfg.Helper.WorkDir = cli.workdir
	}
	if cli.poolSize > 0 {
		cfg.Helper.PoolSize = cli.poolSize
	}
	cfg.Session.MaxCPU = cli.maxcpu
	cfg.Session.Zone = cli.zone
	cfg.Crypto.KeyHex = cli.cryptoHex
	cfg.Crypto.Enabled = cli.cryptoHex != ""
	return cfg, nil
}

func run(cfg *config.Config) int {
	if cfg.Session.Zone == "" {
		if provider := coordinator.DetectProvider(); provider != coordinator.ProviderNone {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			zone, err := coordinator.ZoneOf(ctx, provider)
			cancel()
			if err == nil {
				cfg.Session.Zone = zone
			}
		}
	}

	store, err := cas.Open(cfg.Storage.RootDir, 0)
	if err != nil {
		nlog.Errorln("cas open:", err)
		return -1
	}
	defer store.Close()

	workDir := cfg.Helper.WorkDir
	if workDir == "" {
		workDir = cfg.Storage.RootDir + "/work"
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		nlog.Errorln("workdir:", err)
		return -1
	}

	var cryptoKey *crypto.Key
	if cfg.Crypto.Enabled {
		k, err := crypto.ParseKeyHex(cfg.Crypto.KeyHex)
		if err != nil {
			nlog.Errorln("crypto:", err)
			return -1
		}
		cryptoKey = k
	}

	clientCfg := network.ClientConfig{CryptoKey: cryptoKey}
	if cfg.Helper.PoolSize > 0 {
		clientCfg.PoolSize = cfg.Helper.PoolSize
	}
	cl, err := network.Dial(cfg.Helper.HostAddr, clientCfg)
	if err != nil {
		nlog.Errorln("connect:", err)
		return -1
	}
	defer cl.Close()

	hostCaller := newNetHostCaller(cl, 30*time.Second)
	helper := session.NewHelper(store, hostCaller)

	slots := maxWeight(cfg.Session.MaxCPU)
	loops := make([]*executionLoop, slots)
	for i := range loops {
		loops[i] = newExecutionLoop(helper, hostCaller, workDir)
		go loops[i].run()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	nlog.Infoln("shutting down on signal")
	for _, l := range loops {
		l.stop()
	}
	return 0
}

func maxWeight(maxcpu int) int {
	if maxcpu > 0 {
		return maxcpu
	}
	return runtime.NumCPU()
}

func sleep(stopCh chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
	case <-t.C:
	}
}
