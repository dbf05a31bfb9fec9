// Package chain contains the chain-level views a node reports over its
// status query surface.
package chain

// BlockchainInfo is the subset of getblockchaininfo used by the harness.
type BlockchainInfo struct {
	Chain                string `json:"chain"`
	Blocks               uint64 `json:"blocks"`
	Headers              uint64 `json:"headers"`
	BestBlockHash        string `json:"bestblockhash"`
	InitialBlockDownload bool   `json:"initialblockdownload"`
}

// BlockHeader is the subset of getblockheader used by the harness.
type BlockHeader struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
	Time   int64  `json:"time"`
}

// PeerInfo is a single entry of getpeerinfo.
type PeerInfo struct {
	ID                   int    `json:"id"`
	Addr                 string `json:"addr"`
	Inbound              bool   `json:"inbound"`
	SubVer               string `json:"subver"`
	VerifiedProRegTxHash string `json:"verified_proregtx_hash"`
}

// Verified returns true if the peer completed masternode authentication.
func (p PeerInfo) Verified() bool {
	return p.VerifiedProRegTxHash != ""
}

// Outpoint references a transaction output.
type Outpoint struct {
	TxID string `json:"txid"`
	Vout int    `json:"vout"`
}

// TxOut is a decoded transaction output.
type TxOut struct {
	Value        float64      `json:"value"`
	N            int          `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey is the decoded locking script of an output.
type ScriptPubKey struct {
	Type      string   `json:"type"`
	Addresses []string `json:"addresses"`
}

// RawTransaction is a decoded transaction as returned by getrawtransaction
// with verbose output.
type RawTransaction struct {
	TxID string  `json:"txid"`
	Hex  string  `json:"hex"`
	Vout []TxOut `json:"vout"`
}

// FindOutput returns the index of the first output carrying exactly value.
func (t RawTransaction) FindOutput(value float64) (int, bool) {
	for _, out := range t.Vout {
		if out.Value == value {
			return out.N, true
		}
	}
	return -1, false
}

// SignedTransaction is the reply of signrawtransactionwithwallet.
type SignedTransaction struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// MnsyncStatus is the subset of `mnsync status` used by the harness.
type MnsyncStatus struct {
	AssetName string `json:"AssetName"`
	IsSynced  bool   `json:"IsSynced"`
}
