// Package config loads the tool configuration: where the OmniLock script is
// deployed and which node and indexer to talk to.
//
// The file is YAML (default ~/.omnilock.yaml). Every key can be overridden
// from the environment with the OMNILOCK_ prefix, e.g. OMNILOCK_CKB_RPC.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// Defaults.
const (
	DefaultPath       = "~/.omnilock.yaml"
	DefaultCKBRPC     = "http://127.0.0.1:8114"
	DefaultCKBIndexer = "http://127.0.0.1:8116"
	EnvPrefix         = "OMNILOCK"
)

// Keys of the configuration file.
const (
	KeyOmniLockTxHash = "omnilock_tx_hash"
	KeyOmniLockIndex  = "omnilock_index"
	KeyCKBRPC         = "ckb_rpc"
	KeyCKBIndexer     = "ckb_indexer"
)

// Config is the loaded configuration.
type Config struct {
	// OmniLockTxHash and OmniLockIndex locate the OmniLock deployment cell.
	OmniLockTxHash ckb.Hash
	OmniLockIndex  uint32
	CKBRPC         string
	CKBIndexer     string
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locate home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}

// Load reads the configuration file at path, applying environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	file, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(file)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Errorf("config %s is not a file", path)
	}

	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault(KeyCKBRPC, DefaultCKBRPC)
	v.SetDefault(KeyCKBIndexer, DefaultCKBIndexer)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "%s is not a valid yaml file", path)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	for _, key := range []string{KeyOmniLockTxHash, KeyOmniLockIndex} {
		if !v.IsSet(key) {
			return nil, errors.Errorf("config doesn't have the required item: %s", key)
		}
	}
	hash, err := ckb.ParseHash(v.GetString(KeyOmniLockTxHash))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", KeyOmniLockTxHash)
	}
	index := v.GetInt64(KeyOmniLockIndex)
	if index < 0 || index > int64(^uint32(0)) {
		return nil, errors.Errorf("%s %d is out of range", KeyOmniLockIndex, index)
	}
	c := &Config{
		OmniLockTxHash: hash,
		OmniLockIndex:  uint32(index),
		CKBRPC:         v.GetString(KeyCKBRPC),
		CKBIndexer:     v.GetString(KeyCKBIndexer),
	}
	return c, c.Validate()
}

// Validate checks the values that do not need the network.
func (c *Config) Validate() error {
	if c.CKBRPC == "" {
		return errors.Errorf("%s is empty", KeyCKBRPC)
	}
	for key, url := range map[string]string{KeyCKBRPC: c.CKBRPC, KeyCKBIndexer: c.CKBIndexer} {
		if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") &&
			!strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return errors.Errorf("%s %q is not an http or websocket url", key, url)
		}
	}
	return nil
}

// WriteTemplate writes a commented configuration template to path. It never
// overwrites an existing file.
func WriteTemplate(path string) error {
	file, err := ExpandHome(path)
	if err != nil {
		return err
	}
	data, err := Template()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Errorf("the file or directory %s already exists", file)
		}
		return errors.Wrap(err, "create config")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write config")
	}
	return errors.Wrap(f.Close(), "close config")
}

// Template returns the configuration template.
func Template() ([]byte, error) {
	entry := func(key, value, comment string, tag string) []*yaml.Node {
		return []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: key, HeadComment: comment},
			{Kind: yaml.ScalarNode, Value: value, Tag: tag},
		}
	}
	var content []*yaml.Node
	content = append(content, entry(KeyOmniLockTxHash, ckb.Hash{}.String(),
		"transaction that deployed the omnilock script", "!!str")...)
	content = append(content, entry(KeyOmniLockIndex, "0",
		"output index of the omnilock script cell in that transaction", "!!int")...)
	content = append(content, entry(KeyCKBRPC, DefaultCKBRPC, "CKB node rpc url", "!!str")...)
	content = append(content, entry(KeyCKBIndexer, DefaultCKBIndexer, "CKB indexer rpc url", "!!str")...)

	doc := &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Content: content}},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode template")
	}
	return out, nil
}
