package model

// DecodeError records a log that could not be decoded into a known event.
type DecodeError struct {
	Subscription string `json:"subscription"`
	BlockNumber  uint64 `json:"block_number"`
	BlockHash    string `json:"block_hash"`
	TxHash       string `json:"tx_hash"`
	LogIndex     uint64 `json:"log_index"`
	Address      string `json:"address"`
	Topic0       string `json:"topic0"`
	Error        string `json:"error"`
}
