package ckb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionJSONShape(t *testing.T) {
	tx := sampleTx()
	data, err := json.Marshal(tx)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))

	assert.Equal(t, "0x0", generic["version"])
	assert.Equal(t, []interface{}{}, generic["header_deps"])

	deps := generic["cell_deps"].([]interface{})
	assert.Equal(t, "dep_group", deps[0].(map[string]interface{})["dep_type"])
	assert.Equal(t, "code", deps[1].(map[string]interface{})["dep_type"])

	outputs := generic["outputs"].([]interface{})
	out0 := outputs[0].(map[string]interface{})
	assert.Equal(t, "0x2540be400", out0["capacity"])
	assert.Nil(t, out0["type"])
	assert.Equal(t, "type", out0["lock"].(map[string]interface{})["hash_type"])
	out1 := outputs[1].(map[string]interface{})
	assert.Equal(t, "data1", out1["lock"].(map[string]interface{})["hash_type"])

	assert.Equal(t, []interface{}{"0x", "0xdead"}, generic["outputs_data"])
	assert.Equal(t, []interface{}{"0x10000000", "0x"}, generic["witnesses"])
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	tx := sampleTx()
	data, err := json.Marshal(tx)
	require.NoError(t, err)

	var decoded Transaction
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, SerializeTransaction(tx), SerializeTransaction(&decoded))
	assert.Equal(t, tx.Hash(), decoded.Hash())
}

func TestTransactionJSONFromNode(t *testing.T) {
	// shape returned by get_transaction, with the extra "hash" field
	raw := `{
		"version": "0x0",
		"hash": "0x0000000000000000000000000000000000000000000000000000000000000000",
		"cell_deps": [{"out_point": {"tx_hash": "0x71a7ba8fc96349fea0ed3a5c47992e3b4084b031a42264a018e0072e8172e46c", "index": "0x0"}, "dep_type": "dep_group"}],
		"header_deps": [],
		"inputs": [{"since": "0x0", "previous_output": {"tx_hash": "0xa563884b3686078ec7e7677a5f86449b15cf2693f3c1241766c6996f206cc541", "index": "0x7"}}],
		"outputs": [{"capacity": "0x174876e800", "lock": {"code_hash": "0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8", "hash_type": "type", "args": "0x59a27ef3ba84f061517d13f42cf44ed020610061"}, "type": null}],
		"outputs_data": ["0x"],
		"witnesses": []
	}`
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))

	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, uint32(7), tx.Inputs[0].PreviousOutput.Index)
	assert.Equal(t, SighashTypeHash, tx.Outputs[0].Lock.CodeHash)
	assert.Equal(t, uint64(100_000_000_000), tx.Outputs[0].Capacity)
	assert.Nil(t, tx.Outputs[0].Type)
	assert.Len(t, tx.Outputs[0].Lock.Args, 20)
}

func TestTransactionJSONRejects(t *testing.T) {
	cases := map[string]string{
		"unknown hash type": `{"version":"0x0","cell_deps":[],"header_deps":[],"inputs":[],"outputs":[{"capacity":"0x1","lock":{"code_hash":"0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8","hash_type":"data9","args":"0x"},"type":null}],"outputs_data":["0x"],"witnesses":[]}`,
		"short hash":        `{"version":"0x0","cell_deps":[{"out_point":{"tx_hash":"0x01","index":"0x0"},"dep_type":"code"}],"header_deps":[],"inputs":[],"outputs":[],"outputs_data":[],"witnesses":[]}`,
		"data mismatch":     `{"version":"0x0","cell_deps":[],"header_deps":[],"inputs":[],"outputs":[],"outputs_data":["0x"],"witnesses":[]}`,
		"index overflow":    `{"version":"0x0","cell_deps":[{"out_point":{"tx_hash":"0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8","index":"0x100000000"},"dep_type":"code"}],"header_deps":[],"inputs":[],"outputs":[],"outputs_data":[],"witnesses":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var tx Transaction
			require.Error(t, json.Unmarshal([]byte(raw), &tx))
		})
	}
}

func TestHashTypeText(t *testing.T) {
	for _, ht := range []HashType{HashTypeData, HashTypeType, HashTypeData1, HashTypeData2} {
		text, err := ht.MarshalText()
		require.NoError(t, err)
		var back HashType
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, ht, back)
	}
	_, err := HashType(0x03).MarshalText()
	assert.Error(t, err)
}
