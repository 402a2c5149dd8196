package batch

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// runLog is the append-only conversion log. Records arrive keyed by
// discovery index, possibly out of order when workers overlap; a small
// reorder buffer holds them back so the file always reads in discovery
// order, and each line hits disk as soon as its turn comes.
type runLog struct {
	mu      sync.Mutex
	f       *os.File
	next    int
	pending map[int]string
}

func newRunLog(path, header string) (*runLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create run log")
	}
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write run log header")
	}
	return &runLog{f: f, pending: map[int]string{}}, nil
}

// Record files the log line of item i, flushing every line that is now
// in sequence.
func (l *runLog) Record(i int, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending[i] = line
	for {
		next, ok := l.pending[l.next]
		if !ok {
			return nil
		}
		if _, err := l.f.WriteString(next); err != nil {
			return errors.Wrap(err, "append run log")
		}
		delete(l.pending, l.next)
		l.next++
	}
}

func (l *runLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
