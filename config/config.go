package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var log = logrus.New()

// EnvPrefix is prepended to environment variables overriding config keys,
// e.g. CLOCKSYNC_PEER_COORDINATOR.
const EnvPrefix = "CLOCKSYNC"

// Config represents the configuration of a coordinator or a peer
type Config struct {
	// Default config file location
	configFile string

	Coordinator struct {
		Listen            string   `json:"listen" mapstructure:"listen"`                         // UDP listen address
		LivenessWindow    Duration `json:"liveness_window" mapstructure:"liveness_window"`       // Silence tolerated before a peer is evicted
		BroadcastInterval Duration `json:"broadcast_interval" mapstructure:"broadcast_interval"` // Snapshot period
		PeerIndexPath     string   `json:"peer_index" mapstructure:"peer_index"`                 // LevelDB path for the peer index, empty disables it
		StatusListen      string   `json:"status_listen" mapstructure:"status_listen"`           // HTTP status address, empty disables it
		AdvertiseMDNS     bool     `json:"mdns" mapstructure:"mdns"`
	} `json:"coordinator" mapstructure:"coordinator"`

	Peer struct {
		Coordinator         string   `json:"coordinator" mapstructure:"coordinator"`                   // host:port, empty means browse via mDNS
		Name                string   `json:"name" mapstructure:"name"`                                 // Display name, defaults to the hostname
		SyncInterval        Duration `json:"sync_interval" mapstructure:"sync_interval"`               // Probe and state push period
		SyncJitter          Duration `json:"sync_jitter" mapstructure:"sync_jitter"`                   // Random spread around SyncInterval
		ExtrapolateInterval Duration `json:"extrapolate_interval" mapstructure:"extrapolate_interval"` // Drift report period
		Rate                float32  `json:"rate" mapstructure:"rate"`                                 // Playback rate of the built-in wall clock host
		StatusListen        string   `json:"status_listen" mapstructure:"status_listen"`
	} `json:"peer" mapstructure:"peer"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Coordinator.Listen = "[::]:2076"
	cfg.Coordinator.LivenessWindow = Duration(10 * time.Second)
	cfg.Coordinator.BroadcastInterval = Duration(time.Second)
	cfg.Coordinator.PeerIndexPath = ""
	cfg.Coordinator.StatusListen = ""
	cfg.Coordinator.AdvertiseMDNS = false

	cfg.Peer.Coordinator = ""
	cfg.Peer.Name = ""
	cfg.Peer.SyncInterval = Duration(time.Second)
	cfg.Peer.SyncJitter = Duration(50 * time.Millisecond)
	cfg.Peer.ExtrapolateInterval = Duration(100 * time.Millisecond)
	cfg.Peer.Rate = 1.0
	cfg.Peer.StatusListen = ""

	return cfg
}

// NewConfigFromFile loads configFile over the defaults. An empty configFile
// yields the defaults with environment overrides applied.
func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Load layers the config file and then CLOCKSYNC_* environment variables
// over the values currently held by c.
func (c *Config) Load() error {
	v := viper.New()
	v.SetConfigType("json")

	// Seed viper with the current values so every key is known for env lookups
	current, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := v.ReadConfig(strings.NewReader(string(current))); err != nil {
		return fmt.Errorf("failed to seed defaults: %w", err)
	}

	if c.configFile != "" {
		log.Infof("Loading config from %s", c.configFile)
		v.SetConfigFile(c.configFile)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", c.configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(c, hook); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c.Validate()
}

// Validate checks the values that would otherwise make the loops misbehave.
func (c *Config) Validate() error {
	if c.Coordinator.BroadcastInterval <= 0 {
		return fmt.Errorf("coordinator.broadcast_interval must be positive")
	}
	if c.Coordinator.LivenessWindow <= c.Coordinator.BroadcastInterval {
		return fmt.Errorf("coordinator.liveness_window (%v) must exceed broadcast_interval (%v)",
			c.Coordinator.LivenessWindow, c.Coordinator.BroadcastInterval)
	}
	if c.Peer.SyncInterval <= 0 {
		return fmt.Errorf("peer.sync_interval must be positive")
	}
	if c.Peer.SyncJitter < 0 || c.Peer.SyncJitter >= c.Peer.SyncInterval {
		return fmt.Errorf("peer.sync_jitter (%v) must be between 0 and sync_interval (%v)",
			c.Peer.SyncJitter, c.Peer.SyncInterval)
	}
	if c.Peer.ExtrapolateInterval <= 0 {
		return fmt.Errorf("peer.extrapolate_interval must be positive")
	}
	if math.IsNaN(float64(c.Peer.Rate)) || math.IsInf(float64(c.Peer.Rate), 0) {
		return fmt.Errorf("peer.rate must be a finite number")
	}
	return nil
}

func (c *Config) File() string {
	return c.configFile
}
