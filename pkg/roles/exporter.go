package roles

import (
	"encoding/json"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
)

// TxInfo is the ckb-cli transaction file format ("tx-info"). OmniLock
// signatures already live in the witnesses, so the multisig config and
// signature maps stay empty.
type TxInfo struct {
	Transaction     *ckb.Transaction           `json:"transaction"`
	MultisigConfigs map[string]json.RawMessage `json:"multisig_configs"`
	Signatures      map[string][]string        `json:"signatures"`
}

// Exporter converts an envelope for use with ckb-cli.
type Exporter struct {
	env *envelope.Envelope
}

// NewExporter creates an Exporter.
func NewExporter(env *envelope.Envelope) *Exporter {
	return &Exporter{env: env}
}

// TxInfo returns the ckb-cli representation of the envelope.
func (e *Exporter) TxInfo() *TxInfo {
	return &TxInfo{
		Transaction:     e.env.Transaction.Clone(),
		MultisigConfigs: map[string]json.RawMessage{},
		Signatures:      map[string][]string{},
	}
}

// Export encodes the tx-info as indented JSON.
func (e *Exporter) Export() ([]byte, error) {
	return json.MarshalIndent(e.TxInfo(), "", "  ")
}
