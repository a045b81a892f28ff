package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"scada-core/internal/logging"
)

// Device describes one modbus endpoint the pollers cycle over. Byte offsets
// in register mappings are relative to BlockStart.
type Device struct {
	ID           string        `yaml:"id"`
	Address      string        `yaml:"address"` // host:port
	UnitID       byte          `yaml:"unit_id"`
	BlockStart   uint16        `yaml:"block_start"`
	BlockLength  uint16        `yaml:"block_length"` // in registers
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type DeviceMap struct {
	Devices []Device `yaml:"devices"`
}

type Config struct {
	ConfigFile    string
	DeviceMapFile string
	SnapshotFile  string
	DBPath        string
	LogLevel      zerolog.Level

	DefaultPollSeconds int `json:"default_poll_seconds"`

	StatsdAddr      string   `json:"statsd_addr"`
	StatsdNamespace string   `json:"statsd_namespace"`
	StatsdTags      []string `json:"statsd_tags"`

	Devices []Device `json:"-"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to core config file")
	flag.StringVar(&cfg.DeviceMapFile, "device-map", "devices.yaml", "Path to device map file")
	flag.StringVar(&cfg.SnapshotFile, "snapshot-file", "", "Optional initial configuration snapshot to apply at startup")
	flag.StringVar(&cfg.DBPath, "db-path", "data/scada.db", "Path to sqlite database")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = logging.ParseLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	if cfg.DefaultPollSeconds == 0 {
		cfg.DefaultPollSeconds = 5
	}
	if cfg.StatsdNamespace == "" {
		cfg.StatsdNamespace = "scada."
	}

	devices, err := LoadDeviceMap(cfg.DeviceMapFile, time.Duration(cfg.DefaultPollSeconds)*time.Second)
	if err != nil {
		panic("Failed to load device map: " + err.Error())
	}
	cfg.Devices = devices

	return cfg
}

// LoadDeviceMap reads the YAML device map and applies defaults. Device IDs
// and addresses must be unique; conflicts are collected and reported together.
func LoadDeviceMap(path string, defaultPoll time.Duration) ([]Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device map: %w", err)
	}

	var dm DeviceMap
	if err := yaml.Unmarshal(raw, &dm); err != nil {
		return nil, fmt.Errorf("failed to parse device map: %w", err)
	}

	var (
		problems []string
		seenIDs  = map[string]bool{}
	)

	for i := range dm.Devices {
		d := &dm.Devices[i]
		if d.ID == "" {
			problems = append(problems, fmt.Sprintf("devices[%d]: missing id", i))
			continue
		}
		if seenIDs[d.ID] {
			problems = append(problems, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seenIDs[d.ID] = true

		if d.Address == "" {
			problems = append(problems, fmt.Sprintf("device %s: missing address", d.ID))
		}
		if d.BlockLength == 0 {
			problems = append(problems, fmt.Sprintf("device %s: block_length must be > 0", d.ID))
		}
		if d.PollInterval <= 0 {
			d.PollInterval = defaultPoll
		}
		if d.Timeout <= 0 {
			d.Timeout = 5 * time.Second
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid device map: %s", strings.Join(problems, "; "))
	}
	return dm.Devices, nil
}
