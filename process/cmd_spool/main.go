package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"savingsd/pkg/localstore"
	"savingsd/pkg/queue"
)

// global flags (parsed in main)
var verbose bool

// spoolOp is the file format clients use to drop writes while the daemon
// itself is unreachable: one JSON object per file.
type spoolOp struct {
	Op      string          `json:"op"`
	Table   string          `json:"table"`
	Payload json.RawMessage `json:"payload"`
}

var knownOps = map[string]bool{
	queue.OpCreate: true,
	queue.OpUpdate: true,
	queue.OpDelete: true,
}

var knownTables = map[string]bool{
	queue.TableTransactions:   true,
	queue.TableSavingsRecords: true,
	queue.TableUserSettings:   true,
}

// Main: scans a spool directory for pending-op JSON files, appends them to the
// local offline queue and removes them, optional watch mode.
func main() {
	dirFlag := flag.String("dir", "", "directory to scan for pending-op files (default SPOOL_DIR or spool)")
	localPath := flag.String("local", "", "path of the local store database (default LOCAL_DB_PATH or savingsd.db)")
	watch := flag.Bool("watch", false, "watch the directory for new files")
	flag.BoolVar(&verbose, "verbose", false, "verbose per-file logging")
	flag.Parse()

	_ = godotenv.Load()
	dir := *dirFlag
	if dir == "" {
		dir = os.Getenv("SPOOL_DIR")
	}
	if dir == "" {
		dir = "spool"
	}
	path := *localPath
	if path == "" {
		path = os.Getenv("LOCAL_DB_PATH")
	}
	if path == "" {
		path = "savingsd.db"
	}
	store, err := localstore.Open(path)
	if err != nil {
		log.Fatalf("failed to open local store %s: %v", path, err)
	}
	defer store.Close()
	q := queue.New(store)

	n := scanSpool(q, dir)
	log.Printf("ingested %d op files from %s", n, dir)
	if !*watch {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		log.Fatalf("failed to watch %s: %v", dir, err)
	}
	log.Printf("watching %s", dir)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			// small settle delay so the writer can finish the file
			time.Sleep(100 * time.Millisecond)
			if err := ingestFile(q, ev.Name); err != nil {
				log.Printf("skipping %s: %v", ev.Name, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}

func scanSpool(q *queue.Queue, dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("cannot read spool dir %s: %v", dir, err)
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := ingestFile(q, path); err != nil {
			log.Printf("skipping %s: %v", path, err)
			continue
		}
		n++
	}
	return n
}

// ingestFile validates one spool file, appends its op to the queue and
// removes the file. A malformed file is left in place for inspection.
func ingestFile(q *queue.Queue, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var op spoolOp
	if err := json.Unmarshal(b, &op); err != nil {
		return fmt.Errorf("malformed op file: %w", err)
	}
	if !knownOps[op.Op] {
		return fmt.Errorf("unknown op %q", op.Op)
	}
	if !knownTables[op.Table] {
		return fmt.Errorf("unknown table %q", op.Table)
	}
	if len(op.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := q.Enqueue(op.Op, op.Table, op.Payload); err != nil {
		return err
	}
	if verbose {
		log.Printf("queued %s %s from %s", op.Op, op.Table, filepath.Base(path))
	}
	return os.Remove(path)
}
