package main

import (
	"fmt"
	"os"

	"cosmossdk.io/log"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/suffix-labs/ckb-omnilock/pkg/api"
	"github.com/suffix-labs/ckb-omnilock/pkg/config"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
	"github.com/suffix-labs/ckb-omnilock/pkg/keys"
	"github.com/suffix-labs/ckb-omnilock/pkg/rpc"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagDB       = "db"
	flagTxFile   = "tx-file"
)

// NewRootCmd creates the omnilock-cli command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "omnilock-cli",
		Short:         "Build, sign and send transactions of OmniLock cells",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP(flagConfig, "c", config.DefaultPath, "omnilock config file path")
	rootCmd.PersistentFlags().String(flagLogLevel, "warn", "log level (trace|debug|info|warn|error|disabled)")
	rootCmd.PersistentFlags().String(flagDB, "", "keep envelopes in this leveldb directory, keyed by transaction hash, instead of in tx files")

	rootCmd.AddCommand(
		generateTxCmd(),
		addInputCmd(),
		addOutputCmd(),
		buildAddressCmd(),
		signCmd(),
		combineCmd(),
		statusCmd(),
		exportTxCmd(),
		sendCmd(),
		configCmd(),
	)
	return rootCmd
}

func newLogger(cmd *cobra.Command) (log.Logger, error) {
	lvl, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --%s", flagLogLevel)
	}
	return log.NewLogger(cmd.ErrOrStderr(), log.LevelOption(level)), nil
}

// openService loads the configuration and connects to the node. The returned
// function releases the connections and the store.
func openService(cmd *cobra.Command) (*api.Service, func(), error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, nil, err
	}
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	client, err := rpc.Dial(cmd.Context(), logger, cfg.CKBRPC, cfg.CKBIndexer)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(cmd)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	svc := api.New(logger, cfg, client, rpc.NewResolver(client), rpc.NewCollector(client), store)
	return svc, func() {
		closeStore()
		client.Close()
	}, nil
}

func openStore(cmd *cobra.Command) (envelope.Store, func(), error) {
	dir, err := cmd.Flags().GetString(flagDB)
	if err != nil {
		return nil, nil, err
	}
	if dir == "" {
		return envelope.NewFileStore(), func() {}, nil
	}
	dir, err = config.ExpandHome(dir)
	if err != nil {
		return nil, nil, err
	}
	db, err := envelope.OpenLevelStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

// txRef returns the --tx-file value. With --db it is a transaction hash and
// may be empty for new envelopes.
func txRef(cmd *cobra.Command, required bool) (string, error) {
	ref, err := cmd.Flags().GetString(flagTxFile)
	if err != nil {
		return "", err
	}
	if ref == "" && required {
		return "", errors.Errorf("--%s is required", flagTxFile)
	}
	return ref, nil
}

func addTxFileFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagTxFile, "", "the transaction info file (.json), or the transaction hash with --db")
}

// keyProvider builds the key source of a sign command.
func keyProvider(cmd *cobra.Command) (keys.Provider, error) {
	senderKeys, err := cmd.Flags().GetStringSlice(flagSenderKey)
	if err != nil {
		return nil, err
	}
	var keyFiles []string
	if cmd.Flags().Lookup(flagKeyFile) != nil {
		if keyFiles, err = cmd.Flags().GetStringSlice(flagKeyFile); err != nil {
			return nil, err
		}
	}
	account := ""
	if cmd.Flags().Lookup(flagFromAccount) != nil {
		if account, err = cmd.Flags().GetString(flagFromAccount); err != nil {
			return nil, err
		}
	}

	switch {
	case account != "" && (len(senderKeys) > 0 || len(keyFiles) > 0):
		return nil, errors.Errorf("--%s cannot be combined with --%s or --%s", flagFromAccount, flagSenderKey, flagKeyFile)
	case account != "":
		id, err := keys.ParseAccount(account)
		if err != nil {
			return nil, err
		}
		dir, err := cmd.Flags().GetString(flagKeystore)
		if err != nil {
			return nil, err
		}
		if dir == "" {
			if dir, err = keys.DefaultKeystoreDir(); err != nil {
				return nil, err
			}
		}
		return &keys.KeystoreProvider{Dir: dir, Account: id, Password: promptPassword}, nil
	case len(senderKeys) > 0 || len(keyFiles) > 0:
		return &keys.RawKeyProvider{Keys: senderKeys, Files: keyFiles}, nil
	}
	return nil, errors.New("must provide one of sender key (private key) or an account")
}

func promptPassword() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}
