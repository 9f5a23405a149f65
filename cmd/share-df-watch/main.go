package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/RohanAdwankar/share-df/pkg/protocol"
	"github.com/RohanAdwankar/share-df/pkg/reconcile"
	"github.com/RohanAdwankar/share-df/pkg/table"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	addrVar := flag.String("addr", "127.0.0.1:8080", "the address of the running editor")
	nameVar := flag.String("name", "", "collaborator name to announce")
	demoVar := flag.Bool("demo", false, "make a random edit every few seconds")
	flag.Parse()

	baseUrl, err := url.Parse("http://" + *addrVar)
	if err != nil {
		return err
	}

	slog.Info("Fetching current table", "url", baseUrl.JoinPath("data").String())
	tbl, err := fetchTable(baseUrl)
	if err != nil {
		return err
	}
	slog.Info("got table", "rows", tbl.RowCount(), "columns", tbl.ColumnFields())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec *reconcile.Reconciler
	rec = reconcile.New(tbl, reconcile.Options{
		OnResync: func() {
			// the local copy drifted, refetch the source of truth
			go func() {
				if fresh, err := fetchTable(baseUrl); err != nil {
					slog.Error("failed to refetch table", "err", err)
				} else {
					rec.ResetTable(fresh)
					slog.Info("resynced", "rows", fresh.RowCount(), "columns", fresh.ColumnFields())
				}
			}()
		},
	})

	wsUrl := *baseUrl.JoinPath("ws")
	wsUrl.Scheme = "ws"
	client, err := reconcile.Dial(ctx, wsUrl.String(), rec)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	if *nameVar != "" {
		if err := client.Send(&protocol.UpdateUser{Name: *nameVar}); err != nil {
			return err
		}
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Listen(ctx); err != nil {
			slog.Error("connection lost", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Second * 2)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				local := rec.Table()
				slog.Info("table state", "rows", local.RowCount(), "columns", local.ColumnFields(), "peers", len(rec.Users()))
			case <-ctx.Done():
				return
			}
		}
	}()

	if *demoVar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inner := func() bool {
				t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(5)))
				defer t.Stop()
				select {
				case <-t.C:
					if err := makeRandomEdit(client, rec); err != nil {
						slog.Error("failed to edit", "err", err)
					}
				case <-ctx.Done():
					slog.Info("stopping scheduled edits")
					return false
				}
				return true
			}
			for inner() {
			}
		}()
	}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	return nil
}

func fetchTable(baseUrl *url.URL) (*table.Table, error) {
	resp, err := http.DefaultClient.Get(baseUrl.JoinPath("data").String())
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return table.DecodeRecords(resp.Body)
}

func makeRandomEdit(client *reconcile.Client, rec *reconcile.Reconciler) error {
	local := rec.Table()
	fields := local.ColumnFields()
	if local.RowCount() == 0 || len(fields) == 0 {
		return nil
	}
	rowID, err := local.RowID(rand.Intn(local.RowCount()))
	if err != nil {
		return err
	}
	column := fields[rand.Intn(len(fields))]
	value := fmt.Sprintf("edited at %s", time.Now().Format(time.TimeOnly))
	if err := client.EditCell(rowID, column, value); err != nil {
		return err
	}
	slog.Info("edited", "row", rowID, "column", column, "value", value)
	return nil
}
