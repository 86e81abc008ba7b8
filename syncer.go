package main

import (
	"context"
	"log"
	"sync"
	"time"

	"savingsd/models"
	"savingsd/pkg/period"
)

// SyncStatus is the snapshot reported by GET /sync/status.
type SyncStatus struct {
	Online   bool      `json:"online"`
	LastSync time.Time `json:"last_sync"`
	LastErr  string    `json:"last_error,omitempty"`
	Pending  int64     `json:"pending_ops"`
}

// Syncer tracks connectivity to the remote store and reconciles the local
// state when it comes back: replay the offline queue, refresh the mirror,
// drop stale cache entries.
type Syncer struct {
	interval time.Duration

	mu       sync.Mutex
	online   bool
	lastSync time.Time
	lastErr  string
}

func newSyncer(interval time.Duration) *Syncer {
	return &Syncer{interval: interval}
}

// Online reports the last observed connectivity state.
func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// markOffline records a failed remote call so reads and writes fall back to
// the local store until the next successful probe.
func (s *Syncer) markOffline(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online {
		log.Printf("remote store unreachable, going offline: %v", err)
	}
	s.online = false
	s.lastErr = err.Error()
}

// Status returns a snapshot including the queue depth.
func (s *Syncer) Status() SyncStatus {
	pending, err := opQueue.Pending()
	if err != nil {
		log.Printf("failed to count pending ops: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{Online: s.online, LastSync: s.lastSync, LastErr: s.lastErr, Pending: pending}
}

// Run probes the remote store on a fixed interval until ctx is cancelled.
// An offline-to-online transition triggers a flush.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Syncer) probe(ctx context.Context) {
	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.markOffline(err)
		return
	}
	s.mu.Lock()
	wasOffline := !s.online
	s.online = true
	s.lastErr = ""
	s.mu.Unlock()
	if wasOffline {
		if _, err := s.Flush(ctx); err != nil {
			log.Printf("reconnect flush failed: %v", err)
		}
	}
}

// Flush replays the offline queue and refreshes the mirror for every user
// with local state. Returns the number of ops delivered.
func (s *Syncer) Flush(ctx context.Context) (int, error) {
	delivered, err := opQueue.Replay(ctx, gormRemote{})
	if err != nil {
		return delivered, err
	}
	if err := s.refreshMirrors(ctx); err != nil {
		return delivered, err
	}
	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
	return delivered, nil
}

// refreshMirrors re-pulls remote transactions for every mirrored user. Rows
// created offline are dropped only once the queue is empty, i.e. their
// queued creates have all been delivered.
func (s *Syncer) refreshMirrors(ctx context.Context) error {
	users, err := local.MirroredUsers()
	if err != nil {
		return err
	}
	pending, err := opQueue.Pending()
	if err != nil {
		return err
	}
	for _, uid := range users {
		if err := refreshMirror(ctx, uid, pending == 0); err != nil {
			return err
		}
	}
	return nil
}

// refreshMirror replaces one user's mirrored rows with the remote state and
// invalidates their cached summaries.
func refreshMirror(ctx context.Context, userID uint, dropLocal bool) error {
	var txs []models.Transaction
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Order("date asc, id asc").Find(&txs).Error; err != nil {
		return err
	}
	if dropLocal {
		if err := local.ClearLocalOnly(userID); err != nil {
			return err
		}
	}
	if err := local.ReplaceTransactions(userID, txs); err != nil {
		return err
	}
	cache.InvalidateUser(userID)
	return nil
}

// loadTransactions is the merged read path behind every summary and list:
// remote rows when online, the local mirror (which includes offline creates)
// otherwise.
func loadTransactions(userID uint, r period.Range) ([]models.Transaction, error) {
	from, to := r.From.Time(), r.To.Time()
	if syncer.Online() {
		var txs []models.Transaction
		err := db.Where("user_id = ? AND deleted = ? AND date >= ? AND date <= ?", userID, false, from, to).
			Order("date asc, id asc").Find(&txs).Error
		if err == nil {
			return txs, nil
		}
		syncer.markOffline(err)
	}
	return local.TransactionsInRange(userID, from, to)
}
