package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tileweave.ai/internal/gen/field"
	"tileweave.ai/internal/gen/rules"
	"tileweave.ai/internal/gen/tuning"
	"tileweave.ai/internal/persistence/indexdb"
	persistlog "tileweave.ai/internal/persistence/log"
	"tileweave.ai/internal/persistence/snapshot"
	"tileweave.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		fieldID    = flag.String("field", "field_1", "field id")
		seed       = flag.Int64("seed", 1337, "field seed (used only when starting fresh)")
		rulesetID  = flag.String("ruleset", "open_space", "rule catalog id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (tick/collapse/snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cat, err := rules.LoadOrDefault(*configDir, *rulesetID)
	if err != nil {
		logger.Fatalf("load ruleset: %v", err)
	}
	if bad := cat.CheckConsistency(); len(bad) > 0 {
		for _, inc := range bad {
			logger.Printf("ruleset %s: %s", cat.ID(), inc)
		}
		logger.Printf("ruleset %s: %d asymmetric adjacency pairs (continuing)", cat.ID(), len(bad))
	}

	fieldDir := filepath.Join(*dataDir, "fields", *fieldID)
	_ = os.MkdirAll(fieldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	// Optional read-model index (does not affect generation determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(fieldDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalog(cat, tune); err != nil {
			logger.Printf("index db: upsert catalog: %v", err)
		}
	}

	f, err := field.New(field.Config{ID: *fieldID, Seed: *seed, Tune: tune}, cat)
	if err != nil {
		logger.Fatalf("field: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(fieldDir, "snapshots"))
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.FieldID != "" && snap.Header.FieldID != *fieldID {
			logger.Fatalf("snapshot field id mismatch: flag=%s snap=%s", *fieldID, snap.Header.FieldID)
		}
		if snap.RulesetDigest != "" && snap.RulesetDigest != cat.Digest() {
			logger.Printf("snapshot ruleset digest differs from the loaded catalog; tiles resolve by id")
		}
		if err := f.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), f.CurrentTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(fieldDir)
	defer tickLog.Close()
	f.SetTickLogger(multiTickLogger{a: tickLog, b: idx})

	// Snapshot writer: the field loop hands copies over; disk and index
	// writes happen here.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	f.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.PathFor(filepath.Join(fieldDir, "snapshots"), snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := f.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("field stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(rw, "# HELP tileweave_field_tick Current field tick.\n")
		fmt.Fprintf(rw, "# TYPE tileweave_field_tick gauge\n")
		fmt.Fprintf(rw, "tileweave_field_tick{field=%q} %d\n", *fieldID, f.CurrentTick())
	})
	if envBool("TW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(f, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("field=%s ruleset=%s seed=%d listening on %s", *fieldID, cat.ID(), *seed, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// multiTickLogger fans each tick entry out to the JSONL log and, when
// enabled, the sqlite index.
type multiTickLogger struct {
	a *persistlog.TickLogger
	b *indexdb.SQLiteIndex
}

func (m multiTickLogger) WriteTick(entry field.TickLogEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
