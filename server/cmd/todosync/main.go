package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"

	"todo-sync/server/internal/api"
	"todo-sync/server/internal/cache"
	"todo-sync/server/internal/config"
	"todo-sync/server/internal/diag"
	"todo-sync/server/internal/journal"
	"todo-sync/server/internal/orchestrator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type watchableStore interface {
	cache.Store
	Watch(key cache.Key) (<-chan cache.Snapshot, func())
}

func main() {
	// 地址类配置可以用环境变量覆盖：TODOSYNC_API_BASE_URL / TODOSYNC_STREAM_URL / TODOSYNC_TRANSPORT
	configPath := flag.String("config", "", "config file path (yaml)")
	dumpJournal := flag.Bool("dump-journal", false, "print applied events as JSON lines on exit")
	createTitle := flag.String("create", "", "create a todo with this title and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	out, closeOut, err := openLogOutput(cfg.Logging.Output)
	if err != nil {
		log.Fatalf("open log output: %v", err)
	}
	defer closeOut()
	logger := log.New(out, "", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &api.Client{BaseURL: cfg.API.BaseURL}
	if cfg.API.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.API.Timeout}
	}

	if *createTitle != "" {
		task, err := client.CreateTask(ctx, *createTitle)
		if err != nil {
			logger.Fatalf("create todo: %v", err)
		}
		fmt.Printf("created %s %q\n", task.ID, task.Title)
		return
	}

	store, closeStore, err := openStore(cfg.Cache.Path, logger)
	if err != nil {
		logger.Fatalf("open cache: %v", err)
	}
	defer closeStore()

	recorder := diag.NewRecorder()
	sink := diag.Multi(diag.NewLogSink(logger), recorder)
	j := journal.NewInMemoryStore(cfg.Cache.JournalLimit)

	orch := orchestrator.New(cfg, client, store, sink,
		orchestrator.WithLogger(logger),
		orchestrator.WithJournal(j),
	)

	updates, cancelWatch := store.Watch(cache.TasksKey)
	defer cancelWatch()
	go printSnapshots(updates)

	logger.Printf("todosync streaming from %s (%s)", cfg.Stream.URL, cfg.Stream.Transport)
	runErr := orch.Run(ctx)

	logger.Printf("todosync stopped: diagnostics=%v", recorder.GetStats())
	if *dumpJournal {
		if err := writeJournal(ctx, os.Stdout, j, string(cache.TasksKey)); err != nil {
			logger.Printf("dump journal: %v", err)
		}
	}
	if runErr != nil {
		closeStore()
		logger.Fatalf("run: %v", runErr)
	}
}

// openStore 配置了 cache.path 时使用 badger 持久化，否则只用内存。
func openStore(path string, logger *log.Logger) (watchableStore, func(), error) {
	if path == "" {
		return cache.NewInMemoryStore(logger), func() {}, nil
	}
	store, err := cache.OpenBadgerStore(path, logger)
	if err != nil {
		return nil, nil, err
	}
	closed := false
	return store, func() {
		if closed {
			return
		}
		closed = true
		if err := store.Close(); err != nil {
			logger.Printf("close cache: %v", err)
		}
	}, nil
}

func openLogOutput(output string) (io.Writer, func(), error) {
	switch output {
	case "", "stderr":
		return os.Stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
}

// printSnapshots 是最简单的展示层：每次提交后打印当前列表。
func printSnapshots(updates <-chan cache.Snapshot) {
	for snap := range updates {
		fmt.Printf("--- todos v%d (%d) ---\n", snap.Version, len(snap.Value))
		for _, t := range snap.Value {
			mark := " "
			if t.Completed {
				mark = "x"
			}
			fmt.Printf("[%s] %s  %s  (%s)\n", mark, t.Title, t.ID, t.CreatedAt)
		}
	}
}

func writeJournal(ctx context.Context, w io.Writer, j journal.Store, stream string) error {
	entries, err := j.List(ctx, stream)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
