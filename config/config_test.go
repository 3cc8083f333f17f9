package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	c := Default()
	c.Storage.RootDir = "./uba-cache" // Default() already sets this; assert it stays valid
	if err := c.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadSchedulerThresholds(t *testing.T) {
	c := Default()
	c.Sched.MemWaitLoadPercent = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate accepted mem_wait_load_percent=0")
	}

	c = Default()
	c.Sched.MemKillLoadPercent = c.Sched.MemWaitLoadPercent
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate accepted mem_kill_load_percent == mem_wait_load_percent")
	}
}

func TestValidateRequiresRootDir(t *testing.T) {
	c := Default()
	c.Storage.RootDir = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate accepted an empty storage.root_dir")
	}
}

func TestValidateRequiresHelperHostAddr(t *testing.T) {
	c := Default()
	c.SetRole("helper")
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate accepted a helper role with no helper.host_addr")
	}
	c.Helper.HostAddr = "host:7000"
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate rejected a valid helper config: %v", err)
	}
}

func TestGetDottedPath(t *testing.T) {
	c := Default()
	v, ok := c.Get("scheduler.mem_wait_load_percent")
	if !ok {
		t.Fatalf("Get(scheduler.mem_wait_load_percent) not found")
	}
	if v.(float64) != c.Sched.MemWaitLoadPercent {
		t.Fatalf("Get returned %v, want %v", v, c.Sched.MemWaitLoadPercent)
	}

	if _, ok := c.Get("scheduler.does_not_exist"); ok {
		t.Fatalf("Get found a key that doesn't exist")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := Default()
	clone := c.Clone()
	clone.Sched.MemWaitLoadPercent = 1
	if c.Sched.MemWaitLoadPercent == 1 {
		t.Fatalf("mutating the clone affected the original")
	}
}
