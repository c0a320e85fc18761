// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML config file shape. Any field left zero
// falls back to the CLI flag's own default.
type fileConfig struct {
	Tunnel     string        `yaml:"tunnel"`
	Multicast  string        `yaml:"multicast"`
	USBPath    string        `yaml:"usb_path"`
	Busmonitor bool          `yaml:"busmonitor"`
	Timeout    time.Duration `yaml:"timeout"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (cfg fileConfig) applyDefaults(tunnel, multicast, usbPath string, busmonitor bool, timeout time.Duration) (string, string, string, bool, time.Duration) {
	if tunnel == "" {
		tunnel = cfg.Tunnel
	}
	if multicast == "" {
		multicast = cfg.Multicast
	}
	if usbPath == "" {
		usbPath = cfg.USBPath
	}
	if !busmonitor {
		busmonitor = cfg.Busmonitor
	}
	if timeout == 0 {
		timeout = cfg.Timeout
	}

	return tunnel, multicast, usbPath, busmonitor, timeout
}
