// Command signalkd is the process entry point: it loads the persisted
// configuration, wires the store, the delta pipeline and the server-event
// source, and serves the streaming and REST transports, grounded on the
// teacher's main.go flag/config-file bootstrap.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/signalk/signalk-server-go/internal/config"
	"github.com/signalk/signalk-server-go/internal/hub"
	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/serverevent"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/store"
	"github.com/signalk/signalk-server-go/internal/transport/rest"
	"github.com/signalk/signalk-server-go/internal/transport/ws"
)

const implName = "signalk-server-go"

// processConfig is the -config JSON document: where the process listens
// and which persisted-configuration backend it uses. It is distinct from
// config.Settings, the persisted record the REST/plugin layer manages.
type processConfig struct {
	Listen          string `json:"listen"`
	ConfigBackend   string `json:"configBackend"`   // "file" | "kv"
	ConfigDir       string `json:"configDir"`        // for "file"
	ConfigKVPath    string `json:"configKVPath"`     // for "kv"
	SelfURN         string `json:"selfUrn"`
	PruneContextsMinutes int `json:"pruneContextsMinutes"`
}

func main() {
	logs.Init()
	logs.Info.Printf("signalkd pid=%d GOMAXPROCS=%d", os.Getpid(), runtime.GOMAXPROCS(0))

	configFile := flag.String("config", "./signalk.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override the config file's listen address.")
	flag.Parse()

	pc := loadProcessConfig(*configFile)
	if *listenOn != "" {
		pc.Listen = *listenOn
	}
	if pc.SelfURN == "" {
		pc.SelfURN = "urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d"
	}

	cfgStorage := openConfigStorage(pc)
	settings, err := cfgStorage.LoadSettings()
	if err != nil {
		logs.Warning.Println("main: no persisted settings, using defaults:", err)
		settings = &config.Settings{Port: 3000}
	}

	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		logs.Error.Fatalln("main: failed to start arrival sequence:", err)
	}
	st := store.New(pc.SelfURN, arrival)

	h := hub.New(st, []hub.InputHandler{hub.DropEmptyUpdates()})

	events := serverevent.New(h, st, implName)
	for _, ns := range settings.DebugNamespaces {
		events.EnableDebug(ns)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.Run(ctx)

	if settings.PruneContextsMinutes > 0 {
		go runPruneLoop(st, time.Duration(settings.PruneContextsMinutes)*time.Minute)
	}

	putter := session.NewPutRouter(st.SelfID())

	mux := http.NewServeMux()
	mux.Handle("/signalk/v1/stream", ws.New(st, h, putter, implName))
	mux.Handle("/signalk/", rest.New(st, implName))
	mux.Handle("/signalk", rest.New(st, implName))
	mux.Handle("/metrics", promhttp.HandlerFor(events.Metrics().Registry, promhttp.HandlerOpts{}))

	addr := pc.Listen
	if addr == "" {
		addr = ":3000"
	}
	logs.Info.Printf("listening on %s", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, mux),
	}

	// Coordinate the listener goroutine with the shutdown sequence through
	// an errgroup, so a listener failure and an operator-requested shutdown
	// both converge on the same drain path instead of two independent
	// goroutines racing to log "all done".
	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		waitForShutdown(gctx)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		cancel()
		h.Shutdown(5 * time.Second)
		return nil
	})

	if err := g.Wait(); err != nil {
		logs.Error.Fatalln("main: server exited with error:", err)
	}
	logs.Info.Println("signalkd: all done, good bye")
}

func loadProcessConfig(path string) processConfig {
	var pc processConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		logs.Warning.Println("main: no process config file, using defaults:", err)
		return pc
	}
	if err := json.Unmarshal(raw, &pc); err != nil {
		logs.Error.Fatalln("main: malformed config file:", err)
	}
	return pc
}

func openConfigStorage(pc processConfig) config.Storage {
	switch pc.ConfigBackend {
	case "kv":
		path := pc.ConfigKVPath
		if path == "" {
			path = "./signalk.db"
		}
		kv, err := config.NewKVStorage(path)
		if err != nil {
			logs.Error.Fatalln("main: failed to open kv config backend:", err)
		}
		return kv
	default:
		dir := pc.ConfigDir
		if dir == "" {
			dir = "./config"
		}
		fs, err := config.NewFileStorage(dir)
		if err != nil {
			logs.Error.Fatalln("main: failed to open file config backend:", err)
		}
		return fs
	}
}

func runPruneLoop(st *store.Store, maxAge time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for now := range ticker.C {
		if n := st.PruneStale(maxAge, now); n > 0 {
			logs.Info.Println("main: pruned", n, "stale non-primary source values")
		}
	}
}

func waitForShutdown(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
}
