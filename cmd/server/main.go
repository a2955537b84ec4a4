package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/persistence/indexdb"
	"tradepost.ai/internal/persistence/ledgerdb"
	persistlog "tradepost.ai/internal/persistence/log"
	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/sim/tuning"
	"tradepost.ai/internal/sim/world"
	"tradepost.ai/internal/sim/world/feature/trade/request"
	"tradepost.ai/internal/transport/observer"
	"tradepost.ai/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()

	var (
		addr       = flag.String("addr", envStr("TRADEPOST_ADDR", ":8080"), "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", envStr("TRADEPOST_DATA", "./data"), "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		ledgerKind = flag.String("ledger", envStr("TRADEPOST_LEDGER", "sqlite"), "ledger backend: sqlite or memory")
		actSchema  = flag.String("act_schema", "./schemas/act.schema.json", "validate ACT messages against this JSON schema (empty to disable)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		withIndex  = flag.Bool("index", envBool("TRADEPOST_INDEX", true), "maintain the sqlite trade index under <data>/worlds/<world>/index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	snapDir := filepath.Join(worldDir, "snapshots")
	_ = os.MkdirAll(snapDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	var l ledger.Ledger
	switch strings.ToLower(strings.TrimSpace(*ledgerKind)) {
	case "memory":
		ledgerLog := persistlog.NewLedgerLogger(worldDir)
		defer ledgerLog.Close()
		l = ledger.NewMemory(ledgerLog)
		logger.Printf("ledger: in-memory (balances are lost on restart)")
	case "sqlite", "":
		db, err := ledgerdb.OpenSQLite(filepath.Join(*dataDir, "ledger.sqlite"), log.New(os.Stdout, "[ledgerdb] ", log.LstdFlags|log.Lmicroseconds))
		if err != nil {
			logger.Fatalf("open ledger: %v", err)
		}
		defer db.Close()
		l = db
	default:
		logger.Fatalf("unknown ledger backend %q", *ledgerKind)
	}

	w, err := world.New(world.ConfigFromTuning(*worldID, tune), l)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	w.SetLogger(log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad, err = snapshot.Latest(snapDir)
		if err != nil {
			logger.Fatalf("find snapshot: %v", err)
		}
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	var idx *indexdb.SQLiteIndex
	if *withIndex {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "trades.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer func() {
			_ = idx.Close()
			if n := idx.Dropped(); n > 0 {
				logger.Printf("index dropped %d writes; rebuild from the JSONL logs if needed", n)
			}
		}()
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	auditLog := persistlog.NewAuditLogger(worldDir)
	defer tickLog.Close()
	defer auditLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	w.SetMetrics(world.NewMetrics(reg))

	wsOpts := ws.Options{
		ActPerSec: tune.RateLimits.ActPerSec,
		ActBurst:  tune.RateLimits.ActBurst,
	}
	if p := strings.TrimSpace(*actSchema); p != "" {
		schema, err := jsonschema.Compile(p)
		if err != nil {
			logger.Fatalf("compile act schema: %v", err)
		}
		wsOpts.ActSchema = schema
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)

	sweeper := &request.Sweeper{
		Every: time.Duration(tune.SweepEverySec) * time.Second,
		Due:   w.RequestSweep,
	}

	srv := &http.Server{
		Addr: *addr,
		Handler: newRouter(routerDeps{
			World:       w,
			WorldID:     *worldID,
			WS:          ws.NewServer(w, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds), wsOpts),
			Observer:    observer.NewServer(w, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds)),
			Registry:    reg,
			EnableAdmin: envBool("TRADEPOST_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
			Logger:      logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-snapCh:
				writeSnapshot(logger, snapDir, idx, snap)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}

	// The world loop has cancelled every open session on its way out.
	final := w.CurrentTick()
	if final > 0 {
		final--
	}
	writeSnapshot(logger, snapDir, idx, w.ExportSnapshot(final))
	logger.Printf("shutdown complete at tick %d", final)
}

func writeSnapshot(logger *log.Logger, dir string, idx *indexdb.SQLiteIndex, snap snapshot.SnapshotV1) {
	path := snapshot.PathFor(dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	idx.RecordSnapshot(path, snap)
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
