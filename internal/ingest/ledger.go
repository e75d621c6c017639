package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Ledger remembers which version of each artifact has already been turned
// into facts, so a re-sweep of an unchanged file records nothing new.
type Ledger interface {
	Ingested(ctx context.Context, location, name, digest string) (bool, error)
	MarkIngested(ctx context.Context, location, name, digest string, at time.Time) error
}

// Digest identifies one version of an artifact body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// MemoryLedger keeps the ledger for the life of the process.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: map[string]string{}}
}

func (l *MemoryLedger) Ingested(_ context.Context, location, name, digest string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[location+"\x00"+name] == digest, nil
}

func (l *MemoryLedger) MarkIngested(_ context.Context, location, name, digest string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[location+"\x00"+name] = digest
	return nil
}
