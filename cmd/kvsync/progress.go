package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	kvsync "github.com/kvsync/kvsync/internal/sync"
)

// progressReporter prints one line per store operation. Step may be called
// from concurrent workers, so all writes happen under the mutex.
type progressReporter struct {
	w io.Writer

	mu    sync.Mutex
	op    string
	total int
	done  int
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w}
}

func (p *progressReporter) Begin(op string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.op = op
	p.total = total
	p.done = 0

	if total == 0 {
		return
	}
	switch op {
	case kvsync.OpUpload:
		fmt.Fprintf(p.w, "Uploading %d file(s)\n", total)
	case kvsync.OpDelete:
		fmt.Fprintf(p.w, "Deleting %d key(s)\n", total)
	}
}

func (p *progressReporter) Step(name string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if p.op == kvsync.OpDelete {
		fmt.Fprintf(p.w, "  %s [%d/%d] %s\n", green("✓"), p.done, p.total, name)
		return
	}
	fmt.Fprintf(p.w, "  %s [%d/%d] %s (%s)\n", green("✓"), p.done, p.total, name, humanize.Bytes(uint64(size)))
}

func (p *progressReporter) End(failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if failed > 0 {
		fmt.Fprintf(p.w, "  %s %d operation(s) failed\n", red("✗"), failed)
	}
}
