// Package server exposes the shared editor over HTTP: the editor page,
// the table data endpoints, the websocket upgrade, and the version
// history surface. The mutating endpoints funnel through the hub so all
// table writes stay on its loop.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/RohanAdwankar/share-df/pkg/history"
	"github.com/RohanAdwankar/share-df/pkg/hub"
	"github.com/RohanAdwankar/share-df/pkg/table"
)

// Result is the outcome of an editing session: the final table when the
// host hit save, or the untouched original when they cancelled.
type Result struct {
	Edited bool
	Table  *table.Table
}

// Server wires the HTTP surface for one editing session.
type Server struct {
	hub      *hub.Hub
	original *table.Table

	once sync.Once
	done chan Result
}

// New builds a server around a running hub. The original table is
// retained so a cancel can hand it back unmodified.
func New(h *hub.Hub, original *table.Table) *Server {
	return &Server{hub: h, original: original.Clone(), done: make(chan Result, 1)}
}

// Done yields the session outcome once a shutdown or cancel request
// arrives.
func (s *Server) Done() <-chan Result {
	return s.done
}

// Handler returns the full route table with request logging attached.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.getIndex)
	r.Methods(http.MethodGet).Path("/data").HandlerFunc(s.getData)
	r.Methods(http.MethodPost).Path("/update_data").HandlerFunc(s.updateData)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.hub.ServeWS)
	r.Methods(http.MethodGet).Path("/versions").HandlerFunc(s.getVersions)
	r.Methods(http.MethodPost).Path("/restore").HandlerFunc(s.restore)
	r.Methods(http.MethodPost).Path("/shutdown").HandlerFunc(s.shutdown)
	r.Methods(http.MethodPost).Path("/cancel").HandlerFunc(s.cancel)
	// wraps the router rather than r.Use so preflight requests get
	// answered without needing a matching route
	return allowAnyOrigin(r)
}

// the browser editor is served from a different origin than notebook
// kernels poll from
func allowAnyOrigin(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if request.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(writer, request)
	})
}

func (s *Server) getIndex(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = writer.Write([]byte(editorPage))
}

func (s *Server) getData(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	if err := s.hub.EncodeData(writer); err != nil {
		slog.Error("failed to write table data", "err", err)
	}
}

func (s *Server) updateData(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil || len(body.Data) == 0 {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("request must carry a data array"))
		return
	}
	tbl, err := table.DecodeRecords(bytes.NewReader(body.Data))
	if err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("failed to parse table data: %w", err))
		return
	}
	if err := tbl.CheckIntegrity(); err != nil {
		// a submitted table with broken row identity is recoverable, at
		// the cost of invalidating outstanding row references
		slog.Warn("regenerating row ids for submitted table", "err", err)
		tbl.RegenerateRowIDs()
	}
	s.hub.ReplaceTable(tbl)
	writeJSON(writer, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) getVersions(writer http.ResponseWriter, request *http.Request) {
	snapshots, changes := s.hub.Versions()
	writeJSON(writer, http.StatusOK, map[string]any{
		"snapshots": snapshots,
		"changes":   changes,
	})
}

func (s *Server) restore(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		SnapshotID string `json:"snapshotId"`
		ChangeID   string `json:"changeId"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("failed to parse request: %w", err))
		return
	}

	var err error
	switch {
	case body.SnapshotID != "":
		err = s.hub.RestoreSnapshot(body.SnapshotID)
	case body.ChangeID != "":
		err = s.hub.RevertChange(body.ChangeID)
	default:
		writeError(writer, http.StatusBadRequest, fmt.Errorf("request must carry snapshotId or changeId"))
		return
	}
	switch {
	case errors.Is(err, history.ErrNoSuchSnapshot), errors.Is(err, history.ErrNoSuchChange):
		writeError(writer, http.StatusNotFound, err)
	case errors.Is(err, history.ErrCannotRevert):
		writeError(writer, http.StatusConflict, err)
	case err != nil:
		writeError(writer, http.StatusInternalServerError, err)
	default:
		writeJSON(writer, http.StatusOK, map[string]string{"status": "success"})
	}
}

func (s *Server) shutdown(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "shutting down"})
	s.finish(Result{Edited: true, Table: s.hub.Table()})
}

func (s *Server) cancel(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "cancelled"})
	s.finish(Result{Edited: false, Table: s.original})
}

func (s *Server) finish(res Result) {
	s.once.Do(func() {
		s.done <- res
	})
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

func writeError(writer http.ResponseWriter, status int, err error) {
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}
