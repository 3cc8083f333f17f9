// Package config implements the table-of-tables configuration described in
// the core: typed leaves grouped into nested tables, dotted-path query,
// and atomic load/save through cmn/jsp. Unknown keys are ignored on load
// so older config files keep working against a newer binary.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/uba-build/uba/cmn/atomic"
	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/jsp"
	"github.com/uba-build/uba/cmn/nlog"
)

type (
	// Config is the full, validated configuration for one daemon (host,
	// helper, or CLI). Role is not persisted; it is set at startup from
	// the binary that loaded the file.
	Config struct {
		role    string      `list:"omit"`
		Network NetworkConf `json:"network"`
		Crypto  CryptoConf  `json:"crypto"`
		Storage StorageConf `json:"storage"`
		Proxy   ProxyConf   `json:"proxy"`
		Session SessionConf `json:"session"`
		Sched   SchedConf   `json:"scheduler"`
		Cache   CacheConf   `json:"cache"`
		Trace   TraceConf   `json:"trace"`
		Coord   CoordConf   `json:"coordinator"`
		Log     LogConf     `json:"log"`
		Helper  HelperConf  `json:"helper"`
	}

	NetworkConf struct {
		ListenAddr       string        `json:"listen_addr"`
		MaxConnections   int           `json:"max_connections"`
		RecvTimeout      time.Duration `json:"recv_timeout"`
		HandshakeTimeout time.Duration `json:"handshake_timeout"`
		KeepAliveIdle    time.Duration `json:"keepalive_idle"`
		UseQUIC          bool          `json:"use_quic"`
		SendRaw          bool          `json:"send_raw"`
	}

	CryptoConf struct {
		Enabled bool   `json:"enabled"`
		KeyHex  string `json:"key_hex"`
	}

	StorageConf struct {
		RootDir         string `json:"root_dir"`
		CompressionType string `json:"compression_type"`
		StoreRaw        bool   `json:"store_raw"`
		PopulateCasDir  string `json:"populate_cas_dir"`
		ResetStore      bool   `json:"reset_store"`
	}

	ProxyConf struct {
		Enabled      bool          `json:"enabled"`
		FetchTimeout time.Duration `json:"fetch_timeout"`
		MaxRetries   int           `json:"max_retries"`
	}

	SessionConf struct {
		Host          bool   `json:"host"`
		MaxCPU        int    `json:"max_cpu"`
		Capacity      int64  `json:"capacity"`
		Zone          string `json:"zone"`
		NoCustomAlloc bool   `json:"no_custom_alloc"`
	}

	SchedConf struct {
		MaxLocalProcessors int     `json:"max_local_processors"`
		MemWaitLoadPercent float64 `json:"mem_wait_load_percent"`
		MemKillLoadPercent float64 `json:"mem_kill_load_percent"`
		AllowRemote        bool    `json:"allow_remote"`
	}

	CacheConf struct {
		Enabled       bool          `json:"enabled"`
		LookupTimeout time.Duration `json:"lookup_timeout"`
		// Backend selects the remote cache tier: "s3" (default when
		// RemoteBucket is set), "gcs", "azure", or "" for local-only.
		Backend         string  `json:"backend"`
		RemoteBucket    string  `json:"remote_bucket"`
		AzureAccount    string  `json:"azure_account"`
		AzureAccountKey string  `json:"azure_account_key"`
		WritesPerSecond float64 `json:"writes_per_second"`
	}

	TraceConf struct {
		Enabled bool   `json:"enabled"`
		OutFile string `json:"out_file"`
	}

	CoordConf struct {
		Provider string `json:"provider"` // horde|aws|gcp|none
		Endpoint string `json:"endpoint"`
		AuthJWT  string `json:"auth_jwt,omitempty"`
	}

	LogConf struct {
		Level int    `json:"level"`
		Dir   string `json:"dir"`
	}

	HelperConf struct {
		HostAddr string `json:"host_addr"`
		PoolSize int    `json:"pool_size"`
		WorkDir  string `json:"work_dir"`
	}
)

func (c *Config) JspOpts() jsp.Options { return jsp.CCSign() }

// Clone returns a deep-enough copy for callers that accumulate edits
// before calling Validate+Save; sub-configs contain no pointers so a
// shallow struct copy suffices.
func (c *Config) Clone() *Config {
	clone := &Config{}
	cos.CopyStruct(clone, c)
	return clone
}

func (c *Config) Role() string        { return c.role }
func (c *Config) SetRole(role string) { c.role = role }

func (c *Config) Validate() error {
	if c.Network.MaxConnections < 0 {
		return fmt.Errorf("network.max_connections must be >= 0")
	}
	if c.Sched.MemWaitLoadPercent <= 0 || c.Sched.MemWaitLoadPercent >= 100 {
		return fmt.Errorf("scheduler.mem_wait_load_percent must be in (0,100)")
	}
	if c.Sched.MemKillLoadPercent <= c.Sched.MemWaitLoadPercent {
		return fmt.Errorf("scheduler.mem_kill_load_percent must exceed mem_wait_load_percent")
	}
	if c.Storage.RootDir == "" {
		return fmt.Errorf("storage.root_dir is required")
	}
	if c.role == "helper" && c.Helper.HostAddr == "" {
		return fmt.Errorf("helper.host_addr is required for a helper process")
	}
	return nil
}

// Default returns a Config populated with the fabric's out-of-box
// defaults, matching the CLI flag defaults named in the external
// interfaces (maxcpu=0 meaning "all", capacity unlimited, etc).
func Default() *Config {
	return &Config{
		Network: NetworkConf{
			ListenAddr:       ":7000",
			MaxConnections:   64,
			RecvTimeout:      10 * time.Minute,
			HandshakeTimeout: 20 * time.Second,
			KeepAliveIdle:    60 * time.Second,
		},
		Storage: StorageConf{
			RootDir:         "./uba-cache",
			CompressionType: "lz4",
		},
		Proxy: ProxyConf{
			Enabled:      true,
			FetchTimeout: 30 * time.Second,
			MaxRetries:   1,
		},
		Session: SessionConf{
			MaxCPU: 0,
		},
		Sched: SchedConf{
			MemWaitLoadPercent: 80,
			MemKillLoadPercent: 95,
			AllowRemote:        true,
		},
		Cache: CacheConf{
			LookupTimeout: 5 * time.Second,
		},
		Log: LogConf{
			Level: 0,
			Dir:   "./uba-logs",
		},
	}
}

// Get performs a dotted-path lookup ("scheduler.mem_wait_load_percent")
// against the json tags of Config's nested tables; a path with any
// unknown segment reports not found.
func (c *Config) Get(path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	v := reflect.ValueOf(c).Elem()
	return walk(v, segs)
}

func walk(v reflect.Value, segs []string) (interface{}, bool) {
	if len(segs) == 0 {
		return v.Interface(), true
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if name == segs[0] {
			fv := v.Field(i)
			return walk(fv, segs[1:])
		}
	}
	return nil, false
}

//
// global config owner, mirroring the teacher's atomic-pointer-swap
// pattern: readers see an immutable *Config, writers install a new one.
//

type owner struct {
	ptr atomic.Pointer
}

var global owner

func Get() *Config {
	v := global.ptr.Load()
	if v == nil {
		return Default()
	}
	return v.(*Config)
}

func Put(c *Config) { global.ptr.Store(c) }

func Load(path string) (*Config, error) {
	c := Default()
	if _, err := jsp.LoadMeta(path, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	Put(c)
	return c, nil
}

func Save(path string, c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := jsp.SaveMeta(path, c, nil); err != nil {
		return err
	}
	nlog.Infof("config saved to %s", path)
	return nil
}
