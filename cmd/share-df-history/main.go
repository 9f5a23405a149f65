package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/RohanAdwankar/share-df/pkg/history"
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

	svgVar := flag.Bool("svg", false, "render the log as an svg instead of printing dot")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one positional argument: the history db to read")
	}

	store, err := history.OpenStore(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open history db: %w", err)
	}
	defer store.Close()

	log, err := history.NewLog(table.New(), history.Options{Store: store})
	if err != nil {
		return fmt.Errorf("failed to load change log: %w", err)
	}

	changes := log.Changes()
	slog.Info("loaded log", "changes", len(changes), "snapshots", len(log.Snapshots()))

	slog.Info("changes:")
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "id", change.ID, "author", change.Author,
			"kind", change.Kind, "row", change.Row, "column", change.Column, "reverts", change.Reverts)
	}

	if *svgVar {
		svgPath, err := viz.RenderToTemp(log)
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "path", "file://"+svgPath)
		return nil
	}

	printDot(os.Stdout, changes)
	return nil
}

func printDot(w io.Writer, changes []history.Change) {
	fmt.Fprintln(w, `digraph "log" {`)
	var prev string
	for _, change := range changes {
		fmt.Fprintf(w, "    %q [label=\"%s %s %s\"]\n", change.ID, shortID(change.ID), change.Author, change.Kind)
		if prev != "" {
			fmt.Fprintf(w, "    %q -> %q\n", prev, change.ID)
		}
		prev = change.ID
	}
	fmt.Fprintln(w, "}")
}

// ids in a well-formed db are uuids, but a hand-edited or foreign db may
// carry anything
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
