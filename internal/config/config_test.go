package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hallqvist/voltmine/internal/controller"
	"github.com/hallqvist/voltmine/internal/miner"
	"github.com/hallqvist/voltmine/internal/pricefeed"
)

const sampleTOML = `
[polling]
interval = "2m"
stale_after = 5
stale_policy = "stop"
cooldown = "10m"

[log]
level = "debug"
dir = "/var/log/voltmine"

[server]
listen = "127.0.0.1:7070"

[store]
path = "/var/lib/voltmine/voltmine.db"

[[miners]]
name = "rig-1"
program = "gminer"
exec_path = "/usr/local/bin/gminer"
algo = "kawpow"
pool = "stratum+tcp://kawpow.auto.nicehash.com:9200"
user = "wallet"
zone = "se3"
threshold = 0.5
hysteresis = 0.05

[[miners]]
name = "broken"
program = "unknown-miner"
exec_path = "/bin/x"
pool = "p"

[[miners]]
name = "rig-2"
program = "xmrig"
exec_path = "/usr/local/bin/xmrig"
pool = "stratum+tcp://randomxmonero.auto.nicehash.com:9200"
zone = "SE1"
threshold = 0.2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voltmine.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Polling.Interval != 2*time.Minute {
		t.Fatalf("interval = %v", c.Polling.Interval)
	}
	if c.Polling.StaleAfter != 5 || c.Polling.StalePolicy != "stop" {
		t.Fatalf("polling = %+v", c.Polling)
	}
	if c.Polling.Cooldown != 10*time.Minute {
		t.Fatalf("cooldown = %v", c.Polling.Cooldown)
	}
	if c.Server.Listen != "127.0.0.1:7070" {
		t.Fatalf("listen = %q", c.Server.Listen)
	}
	if c.Log.Level != "debug" || c.Log.Dir != "/var/log/voltmine" {
		t.Fatalf("log = %+v", c.Log)
	}

	if len(c.Miners) != 2 {
		t.Fatalf("valid miners = %d (%+v)", len(c.Miners), c.Miners)
	}
	if len(c.Rejected) != 1 {
		t.Fatalf("rejected = %v", c.Rejected)
	}
	m := c.Miners[0]
	if m.Name != "rig-1" || m.Program != miner.GMiner || m.Zone != pricefeed.SE3 {
		t.Fatalf("rig-1 = %+v", m)
	}
	if m.Threshold != 0.5 || m.Hysteresis != 0.05 {
		t.Fatalf("rig-1 price rule = %+v", m)
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Polling.Interval != pricefeed.DefaultInterval {
		t.Fatalf("interval default = %v", c.Polling.Interval)
	}
	if c.Polling.StalePolicy != string(controller.StaleHold) {
		t.Fatalf("stale policy default = %q", c.Polling.StalePolicy)
	}
	if c.Polling.Cooldown != controller.DefaultCooldown {
		t.Fatalf("cooldown default = %v", c.Polling.Cooldown)
	}
	if c.Polling.StopGrace != miner.DefaultStopGrace {
		t.Fatalf("stop grace default = %v", c.Polling.StopGrace)
	}
	if c.Server.Listen != DefaultListen {
		t.Fatalf("listen default = %q", c.Server.Listen)
	}
}

func TestLoadClampsInterval(t *testing.T) {
	c, err := Load(writeConfig(t, "[polling]\ninterval = \"5s\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Polling.Interval != pricefeed.MinInterval {
		t.Fatalf("interval = %v, want clamp to %v", c.Polling.Interval, pricefeed.MinInterval)
	}
}

func TestZones(t *testing.T) {
	c, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	zones := c.Zones()
	if len(zones) != 2 {
		t.Fatalf("zones = %v", zones)
	}
}

func TestSaveMinersRoundTrip(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	miners := c.Miners
	miners[0].Threshold = 0.75
	miners = append(miners, miner.Config{
		Name:      "rig-3",
		Program:   miner.LolMiner,
		ExecPath:  "/usr/local/bin/lolminer",
		Pool:      "stratum+tcp://etchash.auto.nicehash.com:9200",
		User:      "wallet",
		Zone:      pricefeed.SE4,
		Threshold: 0.3,
	})
	if err := SaveMiners(path, miners); err != nil {
		t.Fatalf("save: %v", err)
	}

	c2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(c2.Miners) != 3 {
		t.Fatalf("miners after save = %+v", c2.Miners)
	}
	if c2.Miners[0].Threshold != 0.75 {
		t.Fatalf("updated threshold = %v", c2.Miners[0].Threshold)
	}
	if c2.Miners[2].Name != "rig-3" || c2.Miners[2].Program != miner.LolMiner {
		t.Fatalf("appended miner = %+v", c2.Miners[2])
	}
	// other sections survive the rewrite
	if c2.Polling.Interval != 2*time.Minute || c2.Server.Listen != "127.0.0.1:7070" {
		t.Fatalf("other sections lost: %+v", c2.Polling)
	}
}
