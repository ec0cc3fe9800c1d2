// Package plugin adapts host callbacks into records and pushes them to the
// exporter shard queues. Callbacks copy only what they need, never block
// beyond the push, and report success to the host even when a record is
// dropped; failures surface as counters only.
package plugin

import (
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Numi2/solana-numistack/modules/exporter"
	"github.com/Numi2/solana-numistack/pkg/frame"
	"github.com/Numi2/solana-numistack/pkg/server"
	util_log "github.com/Numi2/solana-numistack/pkg/util/log"
)

var metricTranslateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "translate_errors_total",
	Help: "Host callbacks whose payload could not be translated into a record.",
}, []string{"kind"})

// AccountView is the host's account notification as seen by the adapter.
type AccountView struct {
	Pubkey       []byte
	Owner        []byte
	Lamports     uint64
	RentEpoch    uint64
	Executable   bool
	Data         []byte
	TxnSignature []byte // nil when the update is not transaction-driven
}

// TransactionView is the host's transaction notification.
type TransactionView struct {
	Signature []byte
	Meta      []byte
	Message   []byte
}

// BlockView is the host's block metadata notification.
type BlockView struct {
	Slot            uint64
	Blockhash       []byte
	ParentSlot      uint64
	BlockTime       *int64
	BlockHeight     *uint64
	ExecutedTxCount uint32
	EntryCount      uint64
}

// Plugin is created at host load and shut down at host unload.
type Plugin struct {
	logger kitlog.Logger
	exp    *exporter.Exporter
	obs    *server.Server

	unloadOnce sync.Once
}

// Load builds the plugin from its JSON config file. Called once by the
// host at plugin load.
func Load(configPath string) (*Plugin, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

func New(cfg Config) (*Plugin, error) {
	util_log.InitLogger(cfg.LogLevel)
	logger := kitlog.With(util_log.Logger, "component", "plugin")

	exp, err := exporter.New(cfg.exporterConfig(), logger)
	if err != nil {
		return nil, err
	}

	p := &Plugin{
		logger: logger,
		exp:    exp,
	}

	if cfg.MetricsListen != "" {
		p.obs = server.New(cfg.MetricsListen, logger)
		if err := p.obs.Start(); err != nil {
			exp.Stop()
			return nil, err
		}
	}

	level.Info(logger).Log("msg", "plugin loaded", "shards", exp.NumShards())
	return p, nil
}

// OnAccountUpdate translates one account notification. It never blocks
// and never returns an error to the host.
func (p *Plugin) OnAccountUpdate(v AccountView, slot, writeVersion uint64) {
	if len(v.Pubkey) != frame.PubkeySize || len(v.Owner) != frame.PubkeySize {
		metricTranslateErrors.WithLabelValues("account").Inc()
		return
	}
	if v.TxnSignature != nil && len(v.TxnSignature) != frame.SignatureSize {
		metricTranslateErrors.WithLabelValues("account").Inc()
		return
	}

	rec := &frame.AccountUpdate{
		Slot:         slot,
		Lamports:     v.Lamports,
		RentEpoch:    v.RentEpoch,
		Executable:   v.Executable,
		WriteVersion: writeVersion,
	}
	copy(rec.Pubkey[:], v.Pubkey)
	copy(rec.Owner[:], v.Owner)
	if len(v.Data) > 0 {
		rec.Data = append([]byte(nil), v.Data...)
	}
	if v.TxnSignature != nil {
		sig := new([frame.SignatureSize]byte)
		copy(sig[:], v.TxnSignature)
		rec.TxnSignature = sig
	}
	p.exp.Push(rec)
}

// OnTransaction translates one transaction notification.
func (p *Plugin) OnTransaction(v TransactionView, slot uint64, index uint32, isVote bool) {
	if len(v.Signature) != frame.SignatureSize {
		metricTranslateErrors.WithLabelValues("transaction").Inc()
		return
	}

	rec := &frame.TransactionUpdate{
		Slot:   slot,
		IsVote: isVote,
		Index:  index,
	}
	copy(rec.Signature[:], v.Signature)
	if len(v.Meta) > 0 {
		rec.Meta = append([]byte(nil), v.Meta...)
	}
	if len(v.Message) > 0 {
		rec.Message = append([]byte(nil), v.Message...)
	}
	p.exp.Push(rec)
}

// OnBlockMetadata translates one block notification.
func (p *Plugin) OnBlockMetadata(v BlockView) {
	if len(v.Blockhash) != frame.BlockhashSize {
		metricTranslateErrors.WithLabelValues("block").Inc()
		return
	}

	rec := &frame.BlockUpdate{
		Slot:            v.Slot,
		ParentSlot:      v.ParentSlot,
		ExecutedTxCount: v.ExecutedTxCount,
		EntryCount:      v.EntryCount,
	}
	copy(rec.Blockhash[:], v.Blockhash)
	if v.BlockTime != nil {
		t := *v.BlockTime
		rec.BlockTime = &t
	}
	if v.BlockHeight != nil {
		h := *v.BlockHeight
		rec.BlockHeight = &h
	}
	p.exp.Push(rec)
}

// OnSlotStatus translates one slot status notification. Unknown status
// codes are forwarded opaquely.
func (p *Plugin) OnSlotStatus(slot uint64, parent *uint64, status frame.SlotStatusCode) {
	rec := &frame.SlotUpdate{Slot: slot, Status: status}
	if parent != nil {
		v := *parent
		rec.Parent = &v
	}
	p.exp.Push(rec)
}

// Unload drains the queues and stops the workers. Called once by the host
// at plugin unload.
func (p *Plugin) Unload() {
	p.unloadOnce.Do(func() {
		p.exp.Stop()
		if p.obs != nil {
			p.obs.Stop()
		}
		level.Info(p.logger).Log("msg", "plugin unloaded")
	})
}
