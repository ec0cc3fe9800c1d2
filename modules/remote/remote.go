// Package remote is the alternate ingress path: it consumes a streaming
// subscription source and pushes the same records the plugin adapter
// produces, through the same shard queues. The concrete client (gRPC in a
// full deployment) stays behind the SourceClient interface.
package remote

import (
	"context"
	"errors"
	"io"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

var (
	metricUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_updates_total",
		Help: "Updates received from the remote subscription.",
	}, []string{"kind"})

	metricTranslateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_translate_errors_total",
		Help: "Remote updates that could not be translated into records.",
	}, []string{"kind"})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remote_reconnects_total",
		Help: "Subscription re-establishments after a stream error.",
	})
)

// SourceClient opens subscription streams against the remote endpoint.
type SourceClient interface {
	Subscribe(ctx context.Context) (UpdateStream, error)
}

// UpdateStream yields updates until the stream fails or the context ends.
type UpdateStream interface {
	Recv() (*Update, error)
}

// Update is one subscription message. Exactly one field is set.
type Update struct {
	Account     *AccountEvent
	Transaction *TransactionEvent
	Block       *BlockEvent
	Slot        *SlotEvent
}

type AccountEvent struct {
	Slot         uint64
	Pubkey       []byte
	Owner        []byte
	Lamports     uint64
	RentEpoch    uint64
	Executable   bool
	WriteVersion uint64
	Data         []byte
	TxnSignature []byte
}

type TransactionEvent struct {
	Slot      uint64
	Signature []byte
	IsVote    bool
	Index     uint32
	Meta      []byte
	Message   []byte
}

type BlockEvent struct {
	Slot            uint64
	Blockhash       []byte
	ParentSlot      uint64
	BlockTime       *int64
	BlockHeight     *uint64
	ExecutedTxCount uint32
	EntryCount      uint64
}

type SlotEvent struct {
	Slot   uint64
	Parent *uint64
	Status uint8
}

// Pusher admits records into the shard queues.
type Pusher interface {
	Push(frame.Record) bool
}

var subscribeBackoff = backoff.Config{
	MinBackoff: 100 * time.Millisecond,
	MaxBackoff: 5 * time.Second,
}

type Adapter struct {
	client SourceClient
	dst    Pusher
	logger kitlog.Logger
}

func NewAdapter(client SourceClient, dst Pusher, logger kitlog.Logger) *Adapter {
	return &Adapter{client: client, dst: dst, logger: logger}
}

// Run consumes the subscription until ctx ends, re-subscribing with
// backoff on stream errors.
func (a *Adapter) Run(ctx context.Context) error {
	bo := backoff.New(ctx, subscribeBackoff)
	for bo.Ongoing() {
		stream, err := a.client.Subscribe(ctx)
		if err != nil {
			level.Warn(a.logger).Log("msg", "subscribe failed", "err", err)
			bo.Wait()
			continue
		}
		bo.Reset()

		err = a.consume(ctx, stream)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			level.Info(a.logger).Log("msg", "subscription ended, re-subscribing")
		} else {
			level.Warn(a.logger).Log("msg", "subscription failed, re-subscribing", "err", err)
		}
		metricReconnects.Inc()
		bo.Wait()
	}
	return ctx.Err()
}

func (a *Adapter) consume(ctx context.Context, stream UpdateStream) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		u, err := stream.Recv()
		if err != nil {
			return err
		}
		a.translate(u)
	}
}

func (a *Adapter) translate(u *Update) {
	switch {
	case u.Account != nil:
		metricUpdates.WithLabelValues("account").Inc()
		e := u.Account
		if len(e.Pubkey) != frame.PubkeySize || len(e.Owner) != frame.PubkeySize ||
			(e.TxnSignature != nil && len(e.TxnSignature) != frame.SignatureSize) {
			metricTranslateErrors.WithLabelValues("account").Inc()
			return
		}
		rec := &frame.AccountUpdate{
			Slot:         e.Slot,
			Lamports:     e.Lamports,
			RentEpoch:    e.RentEpoch,
			Executable:   e.Executable,
			WriteVersion: e.WriteVersion,
		}
		copy(rec.Pubkey[:], e.Pubkey)
		copy(rec.Owner[:], e.Owner)
		if len(e.Data) > 0 {
			rec.Data = append([]byte(nil), e.Data...)
		}
		if e.TxnSignature != nil {
			sig := new([frame.SignatureSize]byte)
			copy(sig[:], e.TxnSignature)
			rec.TxnSignature = sig
		}
		a.dst.Push(rec)

	case u.Transaction != nil:
		metricUpdates.WithLabelValues("transaction").Inc()
		e := u.Transaction
		if len(e.Signature) != frame.SignatureSize {
			metricTranslateErrors.WithLabelValues("transaction").Inc()
			return
		}
		rec := &frame.TransactionUpdate{
			Slot:   e.Slot,
			IsVote: e.IsVote,
			Index:  e.Index,
		}
		copy(rec.Signature[:], e.Signature)
		if len(e.Meta) > 0 {
			rec.Meta = append([]byte(nil), e.Meta...)
		}
		if len(e.Message) > 0 {
			rec.Message = append([]byte(nil), e.Message...)
		}
		a.dst.Push(rec)

	case u.Block != nil:
		metricUpdates.WithLabelValues("block").Inc()
		e := u.Block
		if len(e.Blockhash) != frame.BlockhashSize {
			metricTranslateErrors.WithLabelValues("block").Inc()
			return
		}
		rec := &frame.BlockUpdate{
			Slot:            e.Slot,
			ParentSlot:      e.ParentSlot,
			ExecutedTxCount: e.ExecutedTxCount,
			EntryCount:      e.EntryCount,
		}
		copy(rec.Blockhash[:], e.Blockhash)
		if e.BlockTime != nil {
			t := *e.BlockTime
			rec.BlockTime = &t
		}
		if e.BlockHeight != nil {
			h := *e.BlockHeight
			rec.BlockHeight = &h
		}
		a.dst.Push(rec)

	case u.Slot != nil:
		metricUpdates.WithLabelValues("slot").Inc()
		e := u.Slot
		rec := &frame.SlotUpdate{Slot: e.Slot, Status: frame.SlotStatusCode(e.Status)}
		if e.Parent != nil {
			v := *e.Parent
			rec.Parent = &v
		}
		a.dst.Push(rec)

	default:
		metricTranslateErrors.WithLabelValues("unknown").Inc()
	}
}
