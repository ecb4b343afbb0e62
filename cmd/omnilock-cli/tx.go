package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/suffix-labs/ckb-omnilock/pkg/api"
	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
	"github.com/suffix-labs/ckb-omnilock/pkg/roles"
)

const (
	flagPubkeyHash     = "pubkey-hash"
	flagSenderAddress  = "sender-address"
	flagSighashAddress = "sighash-address"
	flagRequireFirstN  = "require-first-n"
	flagThreshold      = "threshold"
	flagReceiver       = "receiver"
	flagCapacity       = "capacity"
	flagFeeRate        = "fee-rate"
	flagToAddress      = "to-address"
	flagTxHash         = "tx-hash"
	flagIndex          = "index"
	flagSince          = "since"
	flagSenderKey      = "sender-key"
	flagKeyFile        = "key-file"
	flagFromAccount    = "from-account"
	flagKeystore       = "keystore-dir"
	flagOutput         = "output"
	flagOutputFile     = "output-file"
)

func parseHash160(s, what string) ([20]byte, error) {
	var out [20]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, errors.Wrapf(err, "invalid %s", what)
	}
	if len(b) != len(out) {
		return out, errors.Errorf("invalid %s: %d bytes, want 20", what, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func addMultisigFlags(cmd *cobra.Command) {
	cmd.Flags().Uint8(flagRequireFirstN, 0, "require first n signatures of corresponding pubkey")
	cmd.Flags().Uint8(flagThreshold, 0, "multisig threshold")
	cmd.Flags().StringSlice(flagSighashAddress, nil, "normal sighash address of a member, in member order")
	_ = cmd.MarkFlagRequired(flagThreshold)
	_ = cmd.MarkFlagRequired(flagSighashAddress)
}

func multisigFromFlags(cmd *cobra.Command) (*omnilock.MultisigConfig, error) {
	requireFirstN, err := cmd.Flags().GetUint8(flagRequireFirstN)
	if err != nil {
		return nil, err
	}
	threshold, err := cmd.Flags().GetUint8(flagThreshold)
	if err != nil {
		return nil, err
	}
	members, err := cmd.Flags().GetStringSlice(flagSighashAddress)
	if err != nil {
		return nil, err
	}
	return api.MultisigConfig(members, requireFirstN, threshold)
}

// ============================================================================
// generate-tx
// ============================================================================

func generateTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-tx",
		Short: "Generate a transaction not signed yet",
	}

	pubkeyHash := &cobra.Command{
		Use:   "pubkey-hash",
		Short: "Generate a transaction from a pubkey hash omnilock cell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := cmd.Flags().GetString(flagPubkeyHash)
			if err != nil {
				return err
			}
			hash, err := parseHash160(s, flagPubkeyHash)
			if err != nil {
				return err
			}
			return runGenerate(cmd, omnilock.NewPubkeyHashConfig(hash))
		},
	}
	pubkeyHash.Flags().String(flagPubkeyHash, "", "the sender's pubkey hash, lock-arg")
	_ = pubkeyHash.MarkFlagRequired(flagPubkeyHash)

	ethereum := &cobra.Command{
		Use:   "ethereum",
		Short: "Generate a transaction from an ethereum omnilock cell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := cmd.Flags().GetString(flagSenderAddress)
			if err != nil {
				return err
			}
			addr, err := parseHash160(s, flagSenderAddress)
			if err != nil {
				return err
			}
			return runGenerate(cmd, omnilock.NewEthereumConfig(addr))
		},
	}
	ethereum.Flags().String(flagSenderAddress, "", "the sender's ethereum address")
	_ = ethereum.MarkFlagRequired(flagSenderAddress)

	multisig := &cobra.Command{
		Use:   "multisig",
		Short: "Generate a transaction from a multisig omnilock cell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := multisigFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := omnilock.NewMultisigScheme(m)
			if err != nil {
				return err
			}
			return runGenerate(cmd, cfg)
		},
	}
	addMultisigFlags(multisig)

	for _, c := range []*cobra.Command{pubkeyHash, ethereum, multisig} {
		c.Flags().String(flagReceiver, "", "the receiver address")
		c.Flags().String(flagCapacity, "", "the capacity to transfer (unit: CKB, example: 102.43)")
		c.Flags().Uint64(flagFeeRate, roles.DefaultFeeRate, "the fee rate (shannons per 1000 bytes)")
		addTxFileFlag(c)
		_ = c.MarkFlagRequired(flagReceiver)
		_ = c.MarkFlagRequired(flagCapacity)
		cmd.AddCommand(c)
	}
	return cmd
}

func runGenerate(cmd *cobra.Command, cfg *omnilock.Config) error {
	receiver, err := cmd.Flags().GetString(flagReceiver)
	if err != nil {
		return err
	}
	capacityStr, err := cmd.Flags().GetString(flagCapacity)
	if err != nil {
		return err
	}
	capacity, err := api.ParseCapacity(capacityStr)
	if err != nil {
		return err
	}
	feeRate, err := cmd.Flags().GetUint64(flagFeeRate)
	if err != nil {
		return err
	}
	dbMode, _ := cmd.Flags().GetString(flagDB)
	ref, err := txRef(cmd, dbMode == "")
	if err != nil {
		return err
	}

	svc, closeFn, err := openService(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ref, err = svc.GenerateTx(cmd.Context(), ref, api.GenerateRequest{
		Config:    cfg,
		Receivers: []api.Receiver{{Address: receiver, Capacity: capacity}},
		FeeRate:   feeRate,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "> transaction written to %s\n", ref)
	return nil
}

// ============================================================================
// add-input / add-output
// ============================================================================

func addInputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-input",
		Short: "Add a live cell as input",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hashStr, err := cmd.Flags().GetString(flagTxHash)
			if err != nil {
				return err
			}
			hash, err := ckb.ParseHash(hashStr)
			if err != nil {
				return err
			}
			index, err := cmd.Flags().GetUint32(flagIndex)
			if err != nil {
				return err
			}
			since, err := cmd.Flags().GetUint64(flagSince)
			if err != nil {
				return err
			}
			ref, err := txRef(cmd, true)
			if err != nil {
				return err
			}

			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			ref, err = svc.AddInput(cmd.Context(), ref, ckb.OutPoint{TxHash: hash, Index: index}, since)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "> input added, transaction written to %s\n", ref)
			return nil
		},
	}
	cmd.Flags().String(flagTxHash, "", "transaction hash of the live cell")
	cmd.Flags().Uint32(flagIndex, 0, "output index of the live cell")
	cmd.Flags().Uint64(flagSince, 0, "since value of the input")
	addTxFileFlag(cmd)
	_ = cmd.MarkFlagRequired(flagTxHash)
	_ = cmd.MarkFlagRequired(flagIndex)
	return cmd
}

func addOutputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-output",
		Short: "Add an output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := cmd.Flags().GetString(flagToAddress)
			if err != nil {
				return err
			}
			capacityStr, err := cmd.Flags().GetString(flagCapacity)
			if err != nil {
				return err
			}
			capacity, err := api.ParseCapacity(capacityStr)
			if err != nil {
				return err
			}
			ref, err := txRef(cmd, true)
			if err != nil {
				return err
			}

			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			ref, err = svc.AddOutput(cmd.Context(), ref, to, capacity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "> output of %s CKB added, transaction written to %s\n", api.FormatCapacity(capacity), ref)
			return nil
		},
	}
	cmd.Flags().String(flagToAddress, "", "the receiver's address")
	cmd.Flags().String(flagCapacity, "", "the capacity to transfer (unit: CKB, example: 102.43)")
	addTxFileFlag(cmd)
	_ = cmd.MarkFlagRequired(flagToAddress)
	_ = cmd.MarkFlagRequired(flagCapacity)
	return cmd
}

// ============================================================================
// build-address
// ============================================================================

func buildAddressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-address",
		Short: "Build an omnilock address",
	}
	multisig := &cobra.Command{
		Use:   "multisig",
		Short: "Build the address of an omnilock multisig lock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := multisigFromFlags(cmd)
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			info, err := svc.BuildMultisigAddress(cmd.Context(), m)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	addMultisigFlags(multisig)
	cmd.AddCommand(multisig)
	return cmd
}

// ============================================================================
// sign
// ============================================================================

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign the transaction",
	}
	for _, s := range []struct {
		use, short string
		flag       omnilock.IdentityFlag
		multi      bool
	}{
		{"pubkey-hash", "Sign a transaction from a pubkey hash omnilock cell", omnilock.FlagPubkeyHash, false},
		{"ethereum", "Sign a transaction from an ethereum omnilock cell", omnilock.FlagEthereum, false},
		{"multisig", "Sign a transaction from a multisig omnilock cell", omnilock.FlagMultisig, true},
	} {
		flag := s.flag
		c := &cobra.Command{
			Use:   s.use,
			Short: s.short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSign(cmd, flag)
			},
		}
		keyHelp := "the sender private key (hex or WIF)"
		if s.multi {
			keyHelp = "private key (hex or WIF) of a member, may be repeated"
			c.Flags().StringSlice(flagKeyFile, nil, "file holding a member private key, may be repeated")
		}
		c.Flags().StringSlice(flagSenderKey, nil, keyHelp)
		c.Flags().String(flagFromAccount, "", "sign with this keystore account (lock-arg), prompts for its password")
		c.Flags().String(flagKeystore, "", "keystore directory (default ~/.ckb-cli/keystore)")
		addTxFileFlag(c)
		cmd.AddCommand(c)
	}
	return cmd
}

func runSign(cmd *cobra.Command, flag omnilock.IdentityFlag) error {
	ref, err := txRef(cmd, true)
	if err != nil {
		return err
	}
	provider, err := keyProvider(cmd)
	if err != nil {
		return err
	}

	svc, closeFn, err := openService(cmd)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := svc.CheckScheme(cmd.Context(), ref, flag); err != nil {
		return err
	}
	out, err := svc.Sign(cmd.Context(), ref, provider)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "> %s\n", out.Message)
	return nil
}

// ============================================================================
// combine / status
// ============================================================================

func combineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge transaction files signed in parallel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			refs, err := cmd.Flags().GetStringSlice(flagTxFile)
			if err != nil {
				return err
			}
			out, err := cmd.Flags().GetString(flagOutput)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				return errors.Errorf("--%s is required", flagTxFile)
			}
			if out == "" {
				out = refs[0]
			}

			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			out, err = svc.Combine(cmd.Context(), refs, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "> %d transaction files combined into %s\n", len(refs), out)
			return nil
		},
	}
	cmd.Flags().StringSlice(flagTxFile, nil, "transaction info file to merge, may be repeated")
	cmd.Flags().String(flagOutput, "", "file to merge into (default: the first --tx-file)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the signing progress of the transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := txRef(cmd, true)
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			st, err := svc.Status(cmd.Context(), ref)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "tx %s\n", st.Hash)
			for i, g := range st.Groups {
				if g.Owned {
					fmt.Fprintf(cmd.OutOrStdout(), "  group %d inputs %v: %s\n", i, g.Inputs, g.Progress)
				} else {
					lock := g.Lock
					fmt.Fprintf(cmd.OutOrStdout(), "  group %d inputs %v: lock %s, not signed by this tool\n", i, g.Inputs, lock.Hash())
				}
			}
			if st.Complete() {
				fmt.Fprintln(cmd.OutOrStdout(), "> transaction signed!")
			}
			return nil
		},
	}
	addTxFileFlag(cmd)
	return cmd
}

// ============================================================================
// export-tx / send
// ============================================================================

func exportTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-tx",
		Short: "Transform an omnilock tx info file into a ckb-cli compatible format",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := txRef(cmd, true)
			if err != nil {
				return err
			}
			outFile, err := cmd.Flags().GetString(flagOutputFile)
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			data, err := svc.ExportTx(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", outFile)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "> ckb-cli tx file written to %s\n", outFile)
			return nil
		},
	}
	addTxFileFlag(cmd)
	cmd.Flags().String(flagOutputFile, "", "the ckb-cli transaction file (.json)")
	_ = cmd.MarkFlagRequired(flagOutputFile)
	return cmd
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := txRef(cmd, true)
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			hash, err := svc.Send(cmd.Context(), ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), ">>> tx %s sent! <<<\n", hash)
			return nil
		},
	}
	addTxFileFlag(cmd)
	return cmd
}
