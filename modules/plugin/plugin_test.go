package plugin

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"socket_paths": ["/run/agg-0.sock", "/run/agg-1.sock"],
		"queue_capacity": 4096,
		"backpressure": "drop_oldest",
		"batch_max": 64,
		"batch_time_max_us": 500,
		"compress": true,
		"cpu_affinity": [2, 3],
		"metrics_listen": "127.0.0.1:9100"
	}`))
	require.NoError(t, err)
	require.Equal(t, []string{"/run/agg-0.sock", "/run/agg-1.sock"}, cfg.SocketPaths)
	require.Equal(t, 4096, cfg.QueueCapacity)
	require.Equal(t, "drop_oldest", cfg.Backpressure)
	require.Equal(t, 64, cfg.BatchMax)
	require.True(t, cfg.Compress)
	require.Equal(t, []int{2, 3}, cfg.CPUAffinity)
	require.Equal(t, "127.0.0.1:9100", cfg.MetricsListen)

	ec := cfg.exporterConfig()
	require.Equal(t, 500*time.Microsecond, ec.BatchTimeMax)
	require.True(t, ec.ValidatorSafe)
}

func TestParseConfigRejectsBadValues(t *testing.T) {
	_, err := ParseConfig([]byte(`{}`))
	require.Error(t, err, "socket paths are required")

	_, err = ParseConfig([]byte(`{"socket_paths": ["/run/a.sock"], "queue_capacity": 1000}`))
	require.Error(t, err, "capacity must be a power of two")

	_, err = ParseConfig([]byte(`{"socket_paths": ["/run/a.sock"], "backpressure": "block"}`))
	require.Error(t, err, "block is never allowed for validator callbacks")

	_, err = ParseConfig([]byte(`{"socket_paths": ["/run/a.sock"], "cpu_affinity": [0, 1]}`))
	require.Error(t, err, "affinity list must match shard count")

	_, err = ParseConfig([]byte(`not json`))
	require.Error(t, err)
}

func startPlugin(t *testing.T) (*Plugin, <-chan frame.Record) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agg.sock")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	out := make(chan frame.Record, 1024)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := frame.NewStreamDecoder(conn, frame.Codec{})
		for {
			r, err := dec.Next()
			if err != nil {
				return
			}
			out <- r
		}
	}()

	p, err := New(Config{
		SocketPaths:    []string{path},
		QueueCapacity:  1 << 10,
		Backpressure:   "drop_newest",
		BatchMax:       16,
		BatchTimeMaxUS: 200,
		MaxFrameBytes:  frame.DefaultMaxFrameBytes,
		LogLevel:       "error",
	})
	require.NoError(t, err)
	t.Cleanup(p.Unload)
	return p, out
}

func waitRecord(t *testing.T, ch <-chan frame.Record) frame.Record {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a record")
		return nil
	}
}

func TestCallbacksTranslate(t *testing.T) {
	p, out := startPlugin(t)

	pubkey := make([]byte, frame.PubkeySize)
	owner := make([]byte, frame.PubkeySize)
	sig := make([]byte, frame.SignatureSize)
	pubkey[0], owner[0], sig[0] = 1, 2, 3

	p.OnAccountUpdate(AccountView{
		Pubkey:       pubkey,
		Owner:        owner,
		Lamports:     42,
		Executable:   true,
		Data:         []byte("data"),
		TxnSignature: sig,
	}, 10, 7)

	r := waitRecord(t, out).(*frame.AccountUpdate)
	require.Equal(t, uint64(10), r.Slot)
	require.Equal(t, uint64(7), r.WriteVersion)
	require.Equal(t, uint64(42), r.Lamports)
	require.True(t, r.Executable)
	require.Equal(t, byte(1), r.Pubkey[0])
	require.Equal(t, byte(2), r.Owner[0])
	require.Equal(t, []byte("data"), r.Data)
	require.NotNil(t, r.TxnSignature)
	require.Equal(t, byte(3), r.TxnSignature[0])

	p.OnTransaction(TransactionView{Signature: sig, Meta: []byte("m")}, 11, 4, true)
	tx := waitRecord(t, out).(*frame.TransactionUpdate)
	require.Equal(t, uint64(11), tx.Slot)
	require.Equal(t, uint32(4), tx.Index)
	require.True(t, tx.IsVote)

	height := uint64(123)
	p.OnBlockMetadata(BlockView{Slot: 12, Blockhash: make([]byte, frame.BlockhashSize), BlockHeight: &height, EntryCount: 6})
	bl := waitRecord(t, out).(*frame.BlockUpdate)
	require.Equal(t, uint64(12), bl.Slot)
	require.Equal(t, uint64(123), *bl.BlockHeight)
	require.Nil(t, bl.BlockTime)

	parent := uint64(12)
	p.OnSlotStatus(13, &parent, frame.SlotRooted)
	sl := waitRecord(t, out).(*frame.SlotUpdate)
	require.Equal(t, uint64(13), sl.Slot)
	require.Equal(t, uint64(12), *sl.Parent)
	require.Equal(t, frame.SlotRooted, sl.Status)
}

func TestMalformedCallbacksAreCountedAndDropped(t *testing.T) {
	p, out := startPlugin(t)

	before := testutil.ToFloat64(metricTranslateErrors.WithLabelValues("account"))

	p.OnAccountUpdate(AccountView{Pubkey: []byte{1, 2, 3}, Owner: make([]byte, frame.PubkeySize)}, 1, 1)
	p.OnAccountUpdate(AccountView{
		Pubkey:       make([]byte, frame.PubkeySize),
		Owner:        make([]byte, frame.PubkeySize),
		TxnSignature: []byte{0xBA, 0xD0},
	}, 1, 2)

	require.Equal(t, before+2, testutil.ToFloat64(metricTranslateErrors.WithLabelValues("account")))

	// the stream saw nothing
	p.OnSlotStatus(99, nil, frame.SlotProcessed)
	r := waitRecord(t, out)
	require.Equal(t, uint64(99), r.(*frame.SlotUpdate).Slot)
	select {
	case extra := <-out:
		t.Fatalf("unexpected record %v", extra)
	default:
	}
}

func TestUnloadIsIdempotent(t *testing.T) {
	p, _ := startPlugin(t)
	p.Unload()
	p.Unload()
}
