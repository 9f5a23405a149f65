package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/RohanAdwankar/share-df/pkg/history"
	"github.com/RohanAdwankar/share-df/pkg/hub"
	"github.com/RohanAdwankar/share-df/pkg/server"
	"github.com/RohanAdwankar/share-df/pkg/table"
	"github.com/RohanAdwankar/share-df/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	inputVar := flag.String("input", "", "table to load, .csv or .json (default: a small empty table)")
	outputVar := flag.String("output", "", "where to write the final table, .csv or .json (default: stdout as json)")
	historyDBVar := flag.String("history-db", "", "sqlite file to persist the change log in")
	policyVar := flag.String("restore-policy", string(history.RestoreAppend), "what a snapshot restore does to later changes: append or truncate")
	snapshotIntervalVar := flag.Duration("snapshot-interval", history.DefaultSnapshotInterval, "how often to cut a new version snapshot")
	dumpSvgVar := flag.Bool("dump-svg", false, "render the change log as an svg on exit")
	flag.Parse()

	tbl, err := loadTable(*inputVar)
	if err != nil {
		return err
	}

	opts := history.Options{SnapshotInterval: *snapshotIntervalVar}
	switch history.RestorePolicy(*policyVar) {
	case history.RestoreAppend, history.RestoreTruncate:
		opts.Policy = history.RestorePolicy(*policyVar)
	default:
		return fmt.Errorf("unknown restore policy %q", *policyVar)
	}
	if *historyDBVar != "" {
		store, err := history.OpenStore(*historyDBVar)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}
	log, err := history.NewLog(tbl, opts)
	if err != nil {
		return fmt.Errorf("failed to build change log: %w", err)
	}

	h := hub.New(tbl, log)
	s := server.New(h, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()

	httpServer := &http.Server{Addr: *addrVar, Handler: s.Handler()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err.Error())
		}
	}()

	slog.Info("Editor running", "url", "http://"+*addrVar)

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	result := server.Result{Edited: true}
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
		result.Table = h.Table()
	case result = <-s.Done():
		slog.Info("Editing session finished", "edited", result.Edited)
	}
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	if *dumpSvgVar {
		if svgPath, err := viz.RenderToTemp(log); err != nil {
			slog.Error("failed to render change log", "err", err)
		} else {
			slog.Info("rendered change log", "path", "file://"+svgPath)
		}
	}

	return writeTable(result.Table, *outputVar)
}

func loadTable(path string) (*table.Table, error) {
	if path == "" {
		t := table.New("Column 1", "Column 2", "Column 3")
		t.AddRow()
		t.AddRow()
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return table.ReadCSV(f)
	case ".json":
		return table.DecodeRecords(f)
	}
	return nil, fmt.Errorf("unsupported input format %q, want .csv or .json", filepath.Ext(path))
}

func writeTable(t *table.Table, path string) error {
	if t == nil {
		return nil
	}
	if path == "" {
		return t.EncodeRecords(os.Stdout, false)
	}
	tmp := path + fmt.Sprintf(".%d.tmp", time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = t.WriteCSV(f)
	case ".json":
		err = t.EncodeRecords(f, false)
	default:
		err = fmt.Errorf("unsupported output format %q, want .csv or .json", filepath.Ext(path))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	slog.Info("wrote final table", "path", path)
	return nil
}
