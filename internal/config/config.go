// Package config loads node settings from defaults, an optional YAML file
// and MONTANA_* environment variables, in increasing order of precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/lottery"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/pkg/log"
)

const EnvPrefix = "MONTANA"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Node      NodeConfig      `mapstructure:"node"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Genesis   []GenesisEntry  `mapstructure:"genesis"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig is the operator endpoint serving /status and /metrics.
// An empty address disables it.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type NodeConfig struct {
	// KeySeed is the hex encoded 32 byte ed25519 seed. Empty generates an
	// ephemeral key.
	KeySeed string `mapstructure:"key_seed"`
	Class   string `mapstructure:"class"`
	// Produce enables slice production when this node wins a slot.
	Produce bool `mapstructure:"produce"`
}

type ConsensusConfig struct {
	ClockSkew          time.Duration `mapstructure:"clock_skew"`
	MaxClockDivergence time.Duration `mapstructure:"max_clock_divergence"`
	FullNodeSlots      int           `mapstructure:"full_node_slots"`
	VerifiedUserSlots  int           `mapstructure:"verified_user_slots"`
	SafeDepth          uint64        `mapstructure:"safe_depth"`
	FinalDepth         uint64        `mapstructure:"final_depth"`
	MaxReorgDepth      uint64        `mapstructure:"max_reorg_depth"`
	MaxAttestations    int           `mapstructure:"max_attestations"`
	QuorumNum          uint64        `mapstructure:"quorum_num"`
	QuorumDen          uint64        `mapstructure:"quorum_den"`
	Scorer             string        `mapstructure:"scorer"`
	RelayCacheSize     int           `mapstructure:"relay_cache_size"`
	RelayTTL           time.Duration `mapstructure:"relay_ttl"`
}

type GenesisEntry struct {
	PublicKey string `mapstructure:"public_key"`
	Class     string `mapstructure:"class"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("http.address", "127.0.0.1:9640")
	v.SetDefault("node.key_seed", "")
	v.SetDefault("node.class", presence.FullNode.String())
	v.SetDefault("node.produce", true)

	fd := finality.DefaultConfig
	v.SetDefault("consensus.clock_skew", 5*time.Second)
	v.SetDefault("consensus.max_clock_divergence", 10*time.Second)
	v.SetDefault("consensus.full_node_slots", lottery.DefaultQuotas.FullNode)
	v.SetDefault("consensus.verified_user_slots", lottery.DefaultQuotas.VerifiedUser)
	v.SetDefault("consensus.safe_depth", fd.SafeDepth)
	v.SetDefault("consensus.final_depth", fd.FinalDepth)
	v.SetDefault("consensus.max_reorg_depth", fd.MaxReorgDepth)
	v.SetDefault("consensus.max_attestations", fd.MaxAttestations)
	v.SetDefault("consensus.quorum_num", fd.QuorumNum)
	v.SetDefault("consensus.quorum_den", fd.QuorumDen)
	v.SetDefault("consensus.scorer", "sqrt")
	v.SetDefault("consensus.relay_cache_size", 65536)
	v.SetDefault("consensus.relay_ttl", 2*montime.PeriodDuration)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the engine.
func (c *Config) Validate() error {
	if _, err := log.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	if _, err := log.ParseLoggerType(c.Log.Format); err != nil {
		return fmt.Errorf("%w: log.format: %w", ErrInvalid, err)
	}
	if _, err := ParseClass(c.Node.Class); err != nil {
		return fmt.Errorf("%w: node.class: %w", ErrInvalid, err)
	}
	if c.Node.KeySeed != "" {
		b, err := hex.DecodeString(c.Node.KeySeed)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("%w: node.key_seed must be 32 hex encoded bytes", ErrInvalid)
		}
	}

	cc := c.Consensus
	if cc.ClockSkew < 0 || cc.ClockSkew >= montime.SlotDuration {
		return fmt.Errorf("%w: consensus.clock_skew %s out of range", ErrInvalid, cc.ClockSkew)
	}
	if cc.MaxClockDivergence <= 0 {
		return fmt.Errorf("%w: consensus.max_clock_divergence must be positive", ErrInvalid)
	}
	if err := c.Quotas().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if cc.SafeDepth == 0 || cc.FinalDepth <= cc.SafeDepth {
		return fmt.Errorf("%w: need 0 < safe_depth < final_depth", ErrInvalid)
	}
	if cc.MaxReorgDepth == 0 {
		return fmt.Errorf("%w: consensus.max_reorg_depth must be positive", ErrInvalid)
	}
	if cc.MaxAttestations <= 0 {
		return fmt.Errorf("%w: consensus.max_attestations must be positive", ErrInvalid)
	}
	if cc.QuorumDen == 0 || cc.QuorumNum == 0 || cc.QuorumNum > cc.QuorumDen {
		return fmt.Errorf("%w: quorum %d/%d", ErrInvalid, cc.QuorumNum, cc.QuorumDen)
	}
	if _, err := forkchoice.NewScorer(cc.Scorer); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if cc.RelayCacheSize <= 0 || cc.RelayTTL <= 0 {
		return fmt.Errorf("%w: relay cache needs positive size and ttl", ErrInvalid)
	}
	if _, err := c.GenesisParticipants(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Quotas() lottery.Quotas {
	return lottery.Quotas{FullNode: c.Consensus.FullNodeSlots, VerifiedUser: c.Consensus.VerifiedUserSlots}
}

func (c *Config) Finality() finality.Config {
	return finality.Config{
		SafeDepth:       c.Consensus.SafeDepth,
		FinalDepth:      c.Consensus.FinalDepth,
		MaxReorgDepth:   c.Consensus.MaxReorgDepth,
		MaxAttestations: c.Consensus.MaxAttestations,
		QuorumNum:       c.Consensus.QuorumNum,
		QuorumDen:       c.Consensus.QuorumDen,
	}
}

func (c *Config) GenesisParticipants() ([]ledger.Genesis, error) {
	out := make([]ledger.Genesis, 0, len(c.Genesis))
	for i, g := range c.Genesis {
		b, err := hex.DecodeString(g.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis[%d].public_key: %w", ErrInvalid, i, err)
		}
		pub, err := crypto.PublicKeyFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis[%d].public_key: %w", ErrInvalid, i, err)
		}
		class, err := ParseClass(g.Class)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis[%d].class: %w", ErrInvalid, i, err)
		}
		out = append(out, ledger.Genesis{PublicKey: pub, Class: class})
	}
	return out, nil
}

// ParseClass accepts the names printed by presence.Class.String.
func ParseClass(s string) (presence.Class, error) {
	for _, c := range presence.Classes {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown participant class %q", s)
}

// Signer returns the node key, derived from KeySeed or freshly generated.
func (c *Config) Signer() (*crypto.Keypair, error) {
	if c.Node.KeySeed == "" {
		return crypto.GenerateKeypair(rand.Reader)
	}
	seed, err := hex.DecodeString(c.Node.KeySeed)
	if err != nil {
		return nil, err
	}
	return crypto.KeypairFromSeed(seed)
}
