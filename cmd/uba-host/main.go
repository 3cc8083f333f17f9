// Command uba-host runs the build coordinator: it accepts helper
// connections, serves content out of the CAS store, schedules queued
// processes across local/remote/cache placement, and records every
// event to a trace.
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
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/uba-build/uba/cache"
	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/cluster"
	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/config"
	"github.com/uba-build/uba/coordinator"
	"github.com/uba-build/uba/crypto"
	"github.com/uba-build/uba/network"
	"github.com/uba-build/uba/scheduler"
	"github.com/uba-build/uba/session"
	"github.com/uba-build/uba/stats"
	"github.com/uba-build/uba/storageproxy"
	"github.com/uba-build/uba/trace"
)

var buildVersion = "dev"

type cliFlags struct {
	listen         string
	dir            string
	maxcpu         int
	maxcon         int
	capacity       string
	cryptoHex      string
	zone           string
	useQUIC        bool
	noCustomAlloc  bool
	sendRaw        bool
	storeRaw       bool
	populateCasDir string
	configPath     string
	resetStore     bool
	showVersion    bool
}

var cli cliFlags

func init() {
	flag.StringVar(&cli.listen, "listen", "", "address to listen on, e.g. :7000")
	flag.StringVar(&cli.dir, "dir", "", "root directory for the CAS store")
	flag.IntVar(&cli.maxcpu, "maxcpu", 0, "max local execution weight (0 = all cores)")
	flag.IntVar(&cli.maxcon, "maxcon", 64, "max simultaneous helper connections")
	flag.StringVar(&cli.capacity, "capacity", "", "CAS store capacity, e.g. 50g")
	flag.StringVar(&cli.cryptoHex, "crypto", "", "hex-encoded AES-128 key; empty disables encryption")
	flag.StringVar(&cli.zone, "zone", "", "availability zone hint; auto-detected against cloud metadata if empty")
	flag.BoolVar(&cli.useQUIC, "quic", false, "use QUIC instead of TCP for the transport (not yet implemented, recorded for parity)")
	flag.BoolVar(&cli.noCustomAlloc, "nocustomalloc", false, "disable the slab allocator and use the Go heap directly")
	flag.BoolVar(&cli.sendRaw, "sendraw", false, "send blobs uncompressed over the wire")
	flag.BoolVar(&cli.storeRaw, "storeraw", false, "store blobs uncompressed on disk")
	flag.StringVar(&cli.populateCasDir, "populateCas", "", "seed the CAS store from DIR and exit")
	flag.StringVar(&cli.configPath, "config", "", "path to a saved config file")
	flag.BoolVar(&cli.resetStore, "resetstore", false, "wipe the CAS store before starting")
	flag.BoolVar(&cli.showVersion, "version", false, "print version and exit")
}

func main() {
	flag.Parse()
	if cli.showVersion {
		fmt.Println("uba-host", buildVersion)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		nlog.Errorln("config:", err)
		os.Exit(-1)
	}
	cfg.SetRole("host")

	if cli.resetStore {
		if err := os.RemoveAll(cfg.Storage.RootDir); err != nil {
			nlog.Errorln("resetstore:", err)
			os.Exit(-1)
		}
	}

	store, err := cas.Open(cfg.Storage.RootDir, capacityBytes(cfg.Storage.RootDir))
	if err != nil {
		nlog.Errorln("cas open:", err)
		os.Exit(-1)
	}
	defer store.Close()

	if cli.populateCasDir != "" {
		if err := populateCas(store, cli.populateCasDir); err != nil {
			nlog.Errorln("populateCas:", err)
			os.Exit(-1)
		}
		os.Exit(0)
	}

	exitCode := run(cfg, store)
	os.Exit(exitCode)
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
	if cli.listen != "" {
		cfg.Network.ListenAddr = cli.listen
	}
	if cli.dir != "" {
		cfg.Storage.RootDir = cli.dir
	}
	if cli.maxcon > 0 {
		cfg.Network.MaxConnections = cli.maxcon
	}
	cfg.Network.UseQUIC = cli.useQUIC
	cfg.Network.SendRaw = cli.sendRaw
	cfg.Storage.StoreRaw = cli.storeRaw
	cfg.Session.MaxCPU = cli.maxcpu
	cfg.Session.Zone = cli.zone
	if cfg.Session.Zone == "" {
		if zone, err := coordinator.ZoneOf(context.Background(), coordinator.DetectProvider()); err == nil {
			cfg.Session.Zone = zone
		}
	}
	cfg.Session.NoCustomAlloc = cli.noCustomAlloc
	cfg.Session.Host = true
	cfg.Crypto.KeyHex = cli.cryptoHex
	cfg.Crypto.Enabled = cli.cryptoHex != ""
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	config.Put(cfg)
	return cfg, nil
}

func capacityBytes(_ string) int64 {
	if cli.capacity == "" {
		return 0
	}
	n, err := cos.S2B(cli.capacity)
	if err != nil {
		nlog.Warningln("bad -capacity value, ignoring:", err)
		return 0
	}
	return n
}

func populateCas(store *cas.Store, dir string) error {
	return storeDirectoryTree(store, dir)
}

func storeDirectoryTree(store *cas.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := dir + string(os.PathSeparator) + e.Name()
		if e.IsDir() {
			if err := storeDirectoryTree(store, full); err != nil {
				return err
			}
			continue
		}
		if _, err := store.StoreFile(full); err != nil {
			return err
		}
	}
	return nil
}

// run builds every subsystem and drives the rungroup until an error or
// signal, returning the process exit code: 0 clean, 1 when the rungroup
// ends with an error, -1 when a subsystem fails to set up. A repeated
// signal has no exit code of its own.
func run(cfg *config.Config, store *cas.Store) int {
	host := cluster.NewSmap(&cluster.Node{ID: cos.GenTie(), Role: "host", Net: cluster.NetInfo{DirectURL: cfg.Network.ListenAddr}, Zone: cfg.Session.Zone})
	owner := cluster.NewOwner(host)

	proxy := storageproxy.New(nil, store, true)
	sessionHost := session.NewHost()

	tracker := stats.NewTracker(10 * time.Second)
	tracker.RegisterDefaults()
	statsRunner := stats.NewRunner(tracker)

	var backend cache.Backend
	if cfg.Cache.Enabled {
		var err error
		switch {
		case cfg.Cache.RemoteBucket != "" && cfg.Cache.Backend == "gcs":
			backend, err = cache.NewGCSBackend(context.Background(), cfg.Cache.RemoteBucket, cfg.Storage.RootDir+"/cache")
		case cfg.Cache.RemoteBucket != "" && cfg.Cache.Backend == "azure":
			backend, err = cache.NewAzureBackend(cfg.Cache.AzureAccount, cfg.Cache.AzureAccountKey, cfg.Cache.RemoteBucket, cfg.Storage.RootDir+"/cache")
		case cfg.Cache.RemoteBucket != "":
			backend, err = cache.NewS3Backend("", cfg.Cache.RemoteBucket, cfg.Storage.RootDir+"/cache")
		default:
			backend, err = cache.NewLocalBackend(cfg.Storage.RootDir + "/cache")
		}
		if err != nil {
			nlog.Errorln("cache backend:", err)
			return -1
		}
	}
	var cacheClient *cache.Client
	if backend != nil {
		cacheClient = cache.NewClient(backend, cfg.Cache.LookupTimeout, cli.populateCasDir != "", cfg.Cache.WritesPerSecond)
	}

	var traceWriter *trace.Writer
	if cfg.Trace.Enabled && cfg.Trace.OutFile != "" {
		f, err := os.Create(cfg.Trace.OutFile)
		if err != nil {
			nlog.Warningln("trace: could not open output file, disabling:", err)
		} else {
			h := trace.Header{Version: trace.TraceVersion, Frequency: uint64(time.Second), SystemStartTimeMicros: uint64(time.Now().UnixMicro())}
			sessionGUID := uuid.New()
			copy(h.SessionIDBlock[:], sessionGUID[:])
			traceWriter, err = trace.NewWriter(f, h)
			if err != nil {
				nlog.Warningln("trace: header write failed, disabling:", err)
				traceWriter = nil
			}
		}
	}

	local := &localRunner{sessionHost: sessionHost}
	remote := &remoteDispatcher{sessionHost: sessionHost}
	sched := scheduler.New(scheduler.Config{
		LocalWeight:        float64(maxWeight(cfg.Session.MaxCPU)),
		MemWaitLoadPercent: cfg.Sched.MemWaitLoadPercent,
		MemKillLoadPercent: cfg.Sched.MemKillLoadPercent,
		AllowRemote:        cfg.Sched.AllowRemote,
	}, cacheClientOrNil(cacheClient), local, remote)
	sched.SetProcessFinishedCallback(func(p *session.Process) {
		if traceWriter != nil {
			state, _ := p.Snapshot()
			_ = traceWriter.WriteRecord(trace.RecProcessStop, &trace.ProcessStopBody{
				ProcessID: p.Info.ProcessID,
				ExitCode:  int32(p.ExitCode),
				Reason:    string(state),
			})
		}
	})

	var cryptoKey *crypto.Key
	if cfg.Crypto.Enabled {
		k, err := crypto.ParseKeyHex(cfg.Crypto.KeyHex)
		if err != nil {
			nlog.Errorln("crypto:", err)
			return -1
		}
		cryptoKey = k
	}

	server, err := network.Listen(network.ServerConfig{
		ListenAddr:       cfg.Network.ListenAddr,
		RecvTimeout:      cfg.Network.RecvTimeout,
		HandshakeTimeout: cfg.Network.HandshakeTimeout,
		CryptoKey:        cryptoKey,
		AllowNewClients:  true,
	})
	if err != nil {
		nlog.Errorln("listen:", err)
		return -1
	}
	server.Handler = newHandler(proxy, sessionHost, sched, tracker, store)

	var coord *coordinator.Coordinator
	if cfg.Coord.Provider != "" && cfg.Coord.Provider != "none" {
		coord = buildCoordinator(cfg, sched, owner)
	}

	rg := newRungroup()
	rg.add(serverRunner{server})
	rg.add(statsRunner)
	if coord != nil {
		rg.add(coord)
	}

	go sched.Run(200 * time.Millisecond)
	defer sched.Cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infoln("shutting down on signal")
		_ = server.Shutdown()
		rg.stopAll(nil)
	}()

	nlog.Infof("uba-host %s listening on %s", buildVersion, cfg.Network.ListenAddr)
	if err := rg.run(); err != nil {
		nlog.Errorln("terminated with error:", err)
		return 1
	}
	return 0
}

func maxWeight(maxcpu int) int {
	if maxcpu > 0 {
		return maxcpu
	}
	return 64
}

func cacheClientOrNil(c *cache.Client) scheduler.CacheClient {
	if c == nil {
		return nil
	}
	return c
}

func buildCoordinator(cfg *config.Config, sched *scheduler.Scheduler, owner *cluster.Owner) *coordinator.Coordinator {
	provider := coordinator.ProviderNone
	switch cfg.Coord.Provider {
	case "aws":
		provider = coordinator.ProviderAWS
	case "gcp":
		provider = coordinator.ProviderGCP
	}
	depth := func() (int64, int64) {
		queued, _, remote, _ := sched.Counters()
		return queued, remote
	}
	watcher := coordinator.NewInterruptWatcher(provider, 5*time.Second, func(string) {})
	return coordinator.NewCoordinator(nil, depth, owner, 0, 32, 15*time.Second, watcher)
}
