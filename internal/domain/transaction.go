package domain

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Transaction is one payment event from the cleaned ledger.
// UserID, TxnDate and TxnAmount are mandatory; the cleaning step drops rows
// where any of them is missing before a Dataset is built.
type Transaction struct {
	UserID     string    // from "UserID"
	TxnDate    time.Time // from "TXN_DATE"
	TxnAmount  float64   // from "TXN_AMOUNT" (signed)
	FeeAmount  float64   // from "FEE_AMOUNT", 0 when missing
	MerchantID string    // from "MERC_TXN_ID"
	TxnType    string    // from "TXN_TYPE"
	Currency   *string   // from "CURRENCY" or nil when the column is absent
}

// Dataset is an immutable handle over a loaded transaction table.
// Its fingerprint is a content hash, so two datasets with the same rows in the
// same order share cached results and any change produces a new key.
type Dataset struct {
	txns        []Transaction
	fingerprint string
	hasCurrency bool
}

// NewDataset copies txns into a new Dataset and fingerprints the content.
func NewDataset(txns []Transaction) *Dataset {
	rows := make([]Transaction, len(txns))
	copy(rows, txns)

	d := &Dataset{txns: rows}
	h := xxhash.New()
	buf := make([]byte, 0, 128)
	for _, t := range rows {
		buf = buf[:0]
		buf = append(buf, t.UserID...)
		buf = append(buf, 0)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(t.TxnDate.UnixNano()))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t.TxnAmount))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t.FeeAmount))
		buf = append(buf, t.MerchantID...)
		buf = append(buf, 0)
		buf = append(buf, t.TxnType...)
		buf = append(buf, 0)
		if t.Currency != nil {
			d.hasCurrency = true
			buf = append(buf, 1)
			buf = append(buf, *t.Currency...)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, '\n')
		_, _ = h.Write(buf)
	}
	d.fingerprint = hex.EncodeToString(binary.BigEndian.AppendUint64(nil, h.Sum64()))
	return d
}

// Len returns the number of transactions.
func (d *Dataset) Len() int {
	return len(d.txns)
}

// Transactions returns a copy of the rows in load order.
func (d *Dataset) Transactions() []Transaction {
	out := make([]Transaction, len(d.txns))
	copy(out, d.txns)
	return out
}

// Fingerprint returns the hex-encoded content hash of the dataset.
func (d *Dataset) Fingerprint() string {
	return d.fingerprint
}

// HasCurrency reports whether any row carries a currency.
func (d *Dataset) HasCurrency() bool {
	return d.hasCurrency
}

// Users returns the distinct user IDs, sorted.
func (d *Dataset) Users() []string {
	seen := make(map[string]struct{})
	var users []string
	for _, t := range d.txns {
		if _, ok := seen[t.UserID]; ok {
			continue
		}
		seen[t.UserID] = struct{}{}
		users = append(users, t.UserID)
	}
	sort.Strings(users)
	return users
}
