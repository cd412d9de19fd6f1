// Package bitcore carries the module-wide tunables the core packages
// are constructed with: handshake/message limits for peerprotocol,
// the request pipeline's depth and timeout, uTP's MTU bounds, and the
// DHT's bucket size and refresh interval.
package bitcore

import (
	"io/ioutil"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	yaml "gopkg.in/yaml.v1"

	"github.com/riverweave/bitcore/peerprotocol"
	"github.com/riverweave/bitcore/requestpipeline"
)

// Config is the root of the YAML-loaded configuration tree, following
// the teacher's flat Config-struct-plus-yaml-tags convention.
type Config struct {
	Port uint16

	Encryption struct {
		DisableOutgoing bool `yaml:"disable_outgoing"`
		ForceOutgoing   bool `yaml:"force_outgoing"`
		ForceIncoming   bool `yaml:"force_incoming"`
	}

	Peer struct {
		HandshakeTimeout       time.Duration `yaml:"handshake_timeout"`
		MaxMessageSize         uint32        `yaml:"max_message_size"`
		RequestPipelineLimit   uint32        `yaml:"request_pipeline_limit"`
		RequestPipelineTimeout time.Duration `yaml:"request_pipeline_timeout"`
	} `yaml:"peer"`

	UTP struct {
		MinMTU uint16 `yaml:"min_mtu"`
		MaxMTU uint16 `yaml:"max_mtu"`
	} `yaml:"utp"`

	DHT struct {
		BucketSize      int           `yaml:"bucket_size"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		DBPath          string        `yaml:"db_path"`
	} `yaml:"dht"`
}

// DefaultConfig matches spec.md §5's suggested defaults.
var DefaultConfig = Config{
	Port: 6881,
}

func init() {
	DefaultConfig.Peer.HandshakeTimeout = peerprotocol.HandshakeTimeout
	DefaultConfig.Peer.MaxMessageSize = peerprotocol.DefaultMaxMessageSize
	DefaultConfig.Peer.RequestPipelineLimit = 128 * 16 * 1024
	DefaultConfig.Peer.RequestPipelineTimeout = requestpipeline.DefaultTimeout
	DefaultConfig.UTP.MinMTU = 576
	DefaultConfig.UTP.MaxMTU = 1400
	DefaultConfig.DHT.BucketSize = 8
	DefaultConfig.DHT.RefreshInterval = 15 * time.Minute
	DefaultConfig.DHT.DBPath = "~/.bitcore/dht.db"
}

// LoadConfig reads filename as YAML over DefaultConfig; a missing file
// is not an error, matching the teacher's LoadConfig.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	expanded, err := homedir.Expand(c.DHT.DBPath)
	if err != nil {
		return nil, err
	}
	c.DHT.DBPath = expanded
	return &c, nil
}
