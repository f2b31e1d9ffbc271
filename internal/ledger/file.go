package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// File writes one JSON object per line to an append-only file. Each record is
// emitted with a single write under a mutex and fsynced before Append
// returns, so concurrent appends never interleave.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFile opens (creating if needed) the JSON Lines ledger at path.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// Append implements Ledger.
func (l *File) Append(_ context.Context, tx *domain.Transaction) error {
	if err := validate(tx); err != nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	line, err := json.Marshal(tx)
	if err != nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: ledger closed", ErrLedgerWrite)
	}
	if _, err := l.f.Write(line); err != nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := l.f.Sync(); err != nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	appends.Inc()
	return nil
}

// Close releases the file. Later appends fail with ErrLedgerWrite.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
