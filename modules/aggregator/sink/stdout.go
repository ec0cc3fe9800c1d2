package sink

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

// stdoutTarget writes line-delimited JSON records.
type stdoutTarget struct {
	mtx sync.Mutex
	w   *bufio.Writer
}

func newStdoutTarget() *stdoutTarget {
	return newStdoutTargetTo(os.Stdout)
}

func newStdoutTargetTo(w io.Writer) *stdoutTarget {
	return &stdoutTarget{w: bufio.NewWriter(w)}
}

func (s *stdoutTarget) send(r frame.Record) error {
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *stdoutTarget) close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.w.Flush()
}
