package miner

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"time"

	"github.com/hallqvist/voltmine/internal/pricefeed"
)

// Program names the supported miner binaries.
type Program string

const (
	GMiner   Program = "gminer"
	LolMiner Program = "lolminer"
	TRex     Program = "trex"
	XMRig    Program = "xmrig"
)

var programs = map[Program]bool{GMiner: true, LolMiner: true, TRex: true, XMRig: true}

// Valid reports whether p names a supported miner program.
func (p Program) Valid() bool { return programs[p] }

// Config describes one miner slot: the binary to run, its pool credentials
// and the price rule that governs it.
type Config struct {
	Name       string         `mapstructure:"name" json:"name"`
	Program    Program        `mapstructure:"program" json:"program"`
	ExecPath   string         `mapstructure:"exec_path" json:"exec_path"`
	ConfigFile string         `mapstructure:"config_file" json:"config_file,omitempty"`
	Algo       string         `mapstructure:"algo" json:"algo,omitempty"`
	Pool       string         `mapstructure:"pool" json:"pool"`
	User       string         `mapstructure:"user" json:"user,omitempty"`
	Pass       string         `mapstructure:"pass" json:"pass,omitempty"`
	Worker     string         `mapstructure:"worker" json:"worker,omitempty"`
	ExtraArgs  []string       `mapstructure:"extra_args" json:"extra_args,omitempty"`
	WorkDir    string         `mapstructure:"work_dir" json:"work_dir,omitempty"`
	Zone       pricefeed.Zone `mapstructure:"zone" json:"zone"`
	Threshold  float64        `mapstructure:"threshold" json:"threshold"`   // SEK/kWh; start below this
	Hysteresis float64        `mapstructure:"hysteresis" json:"hysteresis"` // SEK/kWh; stop above threshold+hysteresis
}

// Defaults from the original operator setup.
const (
	DefaultZone      = pricefeed.SE3
	DefaultThreshold = 0.10 // SEK/kWh
)

// Validate rejects a slot that can never run. Called at config load; an
// invalid slot is reported and excluded, it is never evaluated.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("miner: name required")
	}
	if !c.Program.Valid() {
		return fmt.Errorf("miner %s: unknown program %q", c.Name, c.Program)
	}
	if c.ExecPath == "" {
		return fmt.Errorf("miner %s: exec_path required", c.Name)
	}
	if c.ConfigFile == "" && c.Pool == "" {
		return fmt.Errorf("miner %s: pool required", c.Name)
	}
	if c.Zone == "" {
		c.Zone = DefaultZone
	}
	if !c.Zone.Valid() {
		return fmt.Errorf("miner %s: unknown zone %q", c.Name, c.Zone)
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("miner %s: threshold must be finite", c.Name)
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Hysteresis < 0 || math.IsNaN(c.Hysteresis) || math.IsInf(c.Hysteresis, 0) {
		return fmt.Errorf("miner %s: hysteresis must be >= 0", c.Name)
	}
	return nil
}

// CheckExecutable verifies the configured binary exists and is executable
// before a launch is attempted. A bare name is resolved via PATH.
func (c *Config) CheckExecutable() error {
	info, err := os.Stat(c.ExecPath)
	if err != nil {
		if _, lookErr := exec.LookPath(c.ExecPath); lookErr == nil {
			return nil
		}
		return fmt.Errorf("miner %s: executable %s: %w", c.Name, c.ExecPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("miner %s: %s is a directory", c.Name, c.ExecPath)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("miner %s: %s is not executable", c.Name, c.ExecPath)
	}
	return nil
}

// BuildArgs produces the launch argv (without argv[0]) for the slot's
// program. When ConfigFile is set the miner reads everything from its own
// config file and only that flag is emitted. Flag spellings follow each
// miner's CLI.
func (c *Config) BuildArgs() []string {
	var args []string
	switch c.Program {
	case GMiner:
		if c.ConfigFile != "" {
			args = []string{"--config", c.ConfigFile}
			break
		}
		args = append(args, "-s", c.Pool)
		if c.Algo != "" {
			args = append(args, "-a", c.Algo)
		}
		if c.User != "" {
			args = append(args, "-u", c.user())
		}
		if c.Pass != "" {
			args = append(args, "-p", c.Pass)
		}
	case LolMiner:
		if c.Pool != "" {
			args = append(args, "--pool", c.Pool)
		}
		if c.Algo != "" {
			args = append(args, "--algo", c.Algo)
		}
		if c.User != "" {
			args = append(args, "--user", c.user())
		}
		if c.Pass != "" {
			args = append(args, "--pass", c.Pass)
		}
	case TRex:
		if c.ConfigFile != "" {
			args = []string{"-c", c.ConfigFile}
			break
		}
		args = append(args, "-o", c.Pool)
		if c.Algo != "" {
			args = append(args, "-a", c.Algo)
		}
		if c.User != "" {
			args = append(args, "-u", c.User)
		}
		if c.Pass != "" {
			args = append(args, "-p", c.Pass)
		}
		if c.Worker != "" {
			args = append(args, "-w", c.Worker)
		}
	case XMRig:
		if c.ConfigFile != "" {
			args = []string{"--config", c.ConfigFile}
			break
		}
		args = append(args, "-o", c.Pool)
		if c.Algo != "" {
			args = append(args, "-a", c.Algo)
		}
		if c.User != "" {
			args = append(args, "-u", c.User)
		}
		if c.Pass != "" {
			args = append(args, "-p", c.Pass)
		}
	}
	return append(args, c.ExtraArgs...)
}

// user appends the worker name with the pool-side dot convention used by
// gminer and lolminer (user.worker); t-rex takes -w instead.
func (c *Config) user() string {
	if c.Worker != "" {
		return c.User + "." + c.Worker
	}
	return c.User
}

// StopBound is the price above which a running slot is stopped.
func (c *Config) StopBound() float64 { return c.Threshold + c.Hysteresis }

// RearmBound is the price below which an automatically stopped slot may
// start again.
func (c *Config) RearmBound() float64 { return c.Threshold - c.Hysteresis }

// DefaultStopGrace is how long terminate waits between SIGTERM and SIGKILL.
const DefaultStopGrace = 5 * time.Second
