package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Peer struct {
		Host string `envconfig:"PEER_HOST" default:"127.0.0.1"`
		Port int    `envconfig:"PEER_PORT" default:"9000"`
	}
	BootstrapPeers []string `envconfig:"BOOTSTRAP_PEERS"`
	Storage        struct {
		Path string `envconfig:"STORAGE_PATH" default:"storage"`
	}
	Catalog struct {
		Path string `envconfig:"CATALOG_PATH" default:"catalog"`
	}
	// EncryptionKey is a 64-character hex string decoding to 32 bytes.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`
	ChunkSize     int    `envconfig:"CHUNK_SIZE" default:"1024"`

	// Zero means block indefinitely, which is the protocol's default.
	AckTimeout   time.Duration `envconfig:"ACK_TIMEOUT" default:"0"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"0"`

	MDNSDiscovery bool `envconfig:"MDNS_DISCOVERY" default:"false"`
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ListenAddr is the address the node binds its listener to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Peer.Port)
}

// AdvertiseAddr is the address other peers use to reach this node. It
// is also what replication compares against when excluding self.
func (c *Config) AdvertiseAddr() string {
	return fmt.Sprintf("%s:%d", c.Peer.Host, c.Peer.Port)
}
