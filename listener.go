package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// subscribeChanges opens a LISTEN connection on the tx_changes channel (fed by
// the trigger installed in db.go) and calls onChange with the user id carried
// in each notification. It returns the listener so the caller can close it.
func subscribeChanges(dsn string, onChange func(userID uint)) (*pq.Listener, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("listener event %d: %v", ev, err)
		}
	})
	if err := l.Listen("tx_changes"); err != nil {
		l.Close()
		return nil, err
	}
	go func() {
		for n := range l.Notify {
			if n == nil {
				// connection was re-established, notifications may have been lost
				continue
			}
			id, err := strconv.ParseUint(n.Extra, 10, 64)
			if err != nil {
				log.Printf("ignoring malformed notification %q: %v", n.Extra, err)
				continue
			}
			onChange(uint(id))
		}
	}()
	return l, nil
}

// onRemoteChange refreshes one user's local state after a remote-side write.
func onRemoteChange(userID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := refreshMirror(ctx, userID, false); err != nil {
		log.Printf("failed to refresh user %d after change notification: %v", userID, err)
	}
}
