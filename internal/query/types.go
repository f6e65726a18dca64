package query

import "time"

// JournalHistoryEntry is a persisted journal row.
type JournalHistoryEntry struct {
	JournalID   string `json:"journal_id"`
	BatchID     string `json:"batch_id"`
	Sequence    int64  `json:"sequence"`
	Asset       string `json:"asset"`
	Side        string `json:"side"`
	JournalType string `json:"journal_type"`
	Amount      string `json:"amount"`
	Before      string `json:"before"`
	After       string `json:"after"`
}

// TransferEntry is a persisted transfer instruction and its delivery state.
type TransferEntry struct {
	TransferID string     `json:"transfer_id"`
	Sequence   int64      `json:"sequence"`
	Kind       string     `json:"kind"`
	Recipient  string     `json:"recipient"`
	Asset      string     `json:"asset"`
	Amount     string     `json:"amount"`
	Status     string     `json:"status"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// IntegrityReport is the result of a hash chain check over the event log.
type IntegrityReport struct {
	LastSequence    int64   `json:"last_sequence"`
	SequenceGaps    []int64 `json:"sequence_gaps"`
	HashChainBreaks []int64 `json:"hash_chain_breaks"`
	IsHealthy       bool    `json:"is_healthy"`
}
