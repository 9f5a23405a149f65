// Package viz renders a session's change log as an SVG for debugging:
// one node per change in record order, grouped into clusters by the
// snapshot window that covers them.
package viz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/RohanAdwankar/share-df/pkg/history"
)

func RenderLogToSvg(log *history.Log, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	graph.SetRankDir(cgraph.TBRank)

	snapshots := log.Snapshots()
	changes := log.Changes()

	clusters := make(map[string]*cgraph.Graph)
	for _, snap := range snapshots {
		sub := graph.SubGraph("cluster_"+snap.ID, 1)
		sub.SetLabel(fmt.Sprintf("%s\n%s .. %s",
			shortID(snap.ID),
			snap.Start.Format(time.TimeOnly),
			snap.End.Format(time.TimeOnly)))
		clusters[snap.ID] = sub
	}

	var prev *cgraph.Node
	var edgeCounter int
	for _, change := range changes {
		target := graph
		for _, snap := range snapshots {
			if snap.Covers(change.Timestamp) {
				target = clusters[snap.ID]
				break
			}
		}
		n, err := target.CreateNode(change.ID)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %s\n%s %s", shortID(change.ID), change.Author, change.Kind, changeDetail(change)))
		if change.Color != "" {
			n.SetColor(change.Color)
		}
		if change.Reverts != "" {
			n.SetStyle(cgraph.DashedNodeStyle)
		}

		if prev != nil {
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), prev, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), os.ModePerm); err != nil {
		return fmt.Errorf("failed to write")
	}
	return nil
}

func RenderToTemp(log *history.Log) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderLogToSvg(log, tf); err != nil {
		return "", err
	}
	return tf, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func changeDetail(c history.Change) string {
	switch c.Kind {
	case history.KindCellEdit:
		newValue, _ := json.Marshal(c.New)
		return fmt.Sprintf("%s.%s=%s", shortID(c.Row), c.Column, string(newValue))
	case history.KindAddRow, history.KindRemoveRow:
		return shortID(c.Row)
	case history.KindAddColumn, history.KindRemoveColumn:
		return c.Column
	}
	return ""
}
