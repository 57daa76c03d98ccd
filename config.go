package horstbeacon

import (
	"time"

	"github.com/BurntSushi/toml"
)

// LayerConfig is one [[key_dist]] table entry in the TOML config file.
type LayerConfig struct {
	Weight   float64 `toml:"weight"`
	Activity float64 `toml:"activity"`
}

// Config is the on-disk configuration for either a sender or a receiver,
// parsed with BurntSushi/toml. Grounded on original_source/src/config.rs
// and common.rs's Args (seed, key_dist, pre_cert, key_lifetime,
// max_piece_size, datagram_size, addr), reshaped into a file instead of
// command-line-only flags since a layered key_dist table does not fit
// comfortably on a command line.
type Config struct {
	N            int           `toml:"n"`
	Tau          uint          `toml:"tau"`
	K            int           `toml:"k"`
	KeyCharges   uint32        `toml:"key_charges"`
	CertInterval uint32        `toml:"cert_interval"`
	MaxPieceSize int           `toml:"max_piece_size"`
	KeyDist      []LayerConfig `toml:"key_dist"`

	StatePath string `toml:"state_path"`

	// Addr is the destination the sender sends datagrams to (sender mode)
	// or the local address the receiver binds to (receiver mode).
	Addr         string `toml:"addr"`
	DatagramSize int    `toml:"datagram_size"`

	// Petname names the sender identity a receiver is tracking. Unused
	// in sender mode.
	Petname string `toml:"petname"`

	SubscriberLifetimeSeconds int `toml:"subscriber_lifetime_seconds"`
}

// LoadConfig parses a TOML config file at path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, wrapErrKindf(StateIoError, err, "parsing config file %s", path)
	}
	return &cfg, nil
}

// Params builds a horstbeacon Params from the config's HORST fields,
// falling back to DefaultParams for anything left at its zero value.
func (c *Config) Params() Params {
	p := DefaultParams()
	if c.N != 0 {
		p.N = c.N
	}
	if c.Tau != 0 {
		p.Tau = c.Tau
	}
	if c.K != 0 {
		p.K = c.K
	}
	if c.KeyCharges != 0 {
		p.KeyCharges = c.KeyCharges
	}
	if c.CertInterval != 0 {
		p.CertInterval = c.CertInterval
	}
	if c.MaxPieceSize != 0 {
		p.MaxPieceSize = c.MaxPieceSize
	}
	if len(c.KeyDist) > 0 {
		dist := make([]LayerWeight, len(c.KeyDist))
		for i, l := range c.KeyDist {
			dist[i] = LayerWeight{RelativeLifetimeWeight: l.Weight, ActivityPercent: l.Activity}
		}
		p.KeyDist = dist
	}
	return p
}

// SubscriberLifetime returns the configured subscriber lifetime, or a
// five-second default matching original_source/src/net_receiver.rs's
// heartbeat_task sleep interval.
func (c *Config) SubscriberLifetime() time.Duration {
	if c.SubscriberLifetimeSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SubscriberLifetimeSeconds) * time.Second
}

// DatagramMTU returns the configured datagram size, or a conservative
// default comfortably under the common 1500-byte Ethernet MTU.
func (c *Config) DatagramMTU() int {
	if c.DatagramSize <= 0 {
		return 1200
	}
	return c.DatagramSize
}
