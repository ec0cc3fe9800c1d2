package sink

import (
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type accountJSON struct {
	Slot         uint64 `json:"slot"`
	Pubkey       string `json:"pubkey"`
	Owner        string `json:"owner"`
	Lamports     uint64 `json:"lamports"`
	RentEpoch    uint64 `json:"rent_epoch"`
	Executable   bool   `json:"executable"`
	WriteVersion uint64 `json:"write_version"`
	Data         string `json:"data,omitempty"`
	TxnSignature string `json:"txn_signature,omitempty"`
}

type transactionJSON struct {
	Slot      uint64 `json:"slot"`
	Signature string `json:"signature"`
	IsVote    bool   `json:"is_vote"`
	Index     uint32 `json:"index"`
	Meta      string `json:"meta,omitempty"`
	Message   string `json:"message,omitempty"`
}

type blockJSON struct {
	Slot            uint64  `json:"slot"`
	Blockhash       string  `json:"blockhash"`
	ParentSlot      uint64  `json:"parent_slot"`
	BlockTime       *int64  `json:"block_time,omitempty"`
	BlockHeight     *uint64 `json:"block_height,omitempty"`
	ExecutedTxCount uint32  `json:"executed_tx_count"`
	EntryCount      uint64  `json:"entry_count"`
}

type slotJSON struct {
	Slot   uint64  `json:"slot"`
	Parent *uint64 `json:"parent,omitempty"`
	Status string  `json:"status"`
}

type recordJSON struct {
	Kind        string           `json:"kind"`
	Account     *accountJSON     `json:"account,omitempty"`
	Transaction *transactionJSON `json:"transaction,omitempty"`
	Block       *blockJSON       `json:"block,omitempty"`
	Slot        *slotJSON        `json:"slot,omitempty"`
}

// Marshal renders a record as one JSON object, binary fields hex-encoded.
func Marshal(r frame.Record) ([]byte, error) {
	out := recordJSON{Kind: r.Kind().String()}
	switch v := r.(type) {
	case *frame.AccountUpdate:
		a := &accountJSON{
			Slot:         v.Slot,
			Pubkey:       hex.EncodeToString(v.Pubkey[:]),
			Owner:        hex.EncodeToString(v.Owner[:]),
			Lamports:     v.Lamports,
			RentEpoch:    v.RentEpoch,
			Executable:   v.Executable,
			WriteVersion: v.WriteVersion,
			Data:         hex.EncodeToString(v.Data),
		}
		if v.TxnSignature != nil {
			a.TxnSignature = hex.EncodeToString(v.TxnSignature[:])
		}
		out.Account = a
	case *frame.TransactionUpdate:
		out.Transaction = &transactionJSON{
			Slot:      v.Slot,
			Signature: hex.EncodeToString(v.Signature[:]),
			IsVote:    v.IsVote,
			Index:     v.Index,
			Meta:      hex.EncodeToString(v.Meta),
			Message:   hex.EncodeToString(v.Message),
		}
	case *frame.BlockUpdate:
		out.Block = &blockJSON{
			Slot:            v.Slot,
			Blockhash:       hex.EncodeToString(v.Blockhash[:]),
			ParentSlot:      v.ParentSlot,
			BlockTime:       v.BlockTime,
			BlockHeight:     v.BlockHeight,
			ExecutedTxCount: v.ExecutedTxCount,
			EntryCount:      v.EntryCount,
		}
	case *frame.SlotUpdate:
		out.Slot = &slotJSON{
			Slot:   v.Slot,
			Parent: v.Parent,
			Status: v.Status.String(),
		}
	default:
		return nil, fmt.Errorf("unknown record type %T", r)
	}
	return json.Marshal(out)
}
