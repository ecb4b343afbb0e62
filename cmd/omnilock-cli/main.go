// omnilock-cli builds, signs and sends CKB transactions that spend OmniLock
// cells.
//
// The transaction travels between signers as an envelope file holding the
// transaction and its OmniLock config. Every command reads the file, applies
// one step and writes it back; a failed step leaves the file untouched.
//
// Example usage:
//
//	# Create the configuration, then point it at the OmniLock deployment
//	omnilock-cli config init
//	omnilock-cli config check
//
//	# Address of a 2-of-3 multisig
//	omnilock-cli build-address multisig --threshold 2 --require-first-n 0 \
//	  --sighash-address ckt1... --sighash-address ckt1... --sighash-address ckt1...
//
//	# Transfer 99 CKB from it, sign with two members and send
//	omnilock-cli generate-tx multisig --threshold 2 --require-first-n 0 \
//	  --sighash-address ... --receiver ckt1... --capacity 99 --tx-file tx.json
//	omnilock-cli sign multisig --sender-key <hex> --tx-file tx.json
//	omnilock-cli sign multisig --sender-key <hex> --tx-file tx.json
//	omnilock-cli send --tx-file tx.json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}
