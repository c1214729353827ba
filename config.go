package main

import (
	"os"
	"path"

	"github.com/chainbound/scatter/db"
	"github.com/chainbound/scatter/types"

	"gopkg.in/yaml.v2"
)

// Config maps each chain onto its rpc endpoints. The first endpoint is
// the primary provider, the rest are fallbacks in rotation order.
type Config struct {
	Rpc        map[types.Chain][]string `yaml:"rpc"`
	DbSettings db.DbSettings            `yaml:"postgres"`
}

func NewConfig(path string) (*Config, error) {
	var c Config

	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(f, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func ConfigPath() (string, error) {
	confDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return path.Join(confDir, "scatter", "config.yml"), nil
}
