package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RohanAdwankar/share-df/pkg/history"
	"github.com/RohanAdwankar/share-df/pkg/hub"
	"github.com/RohanAdwankar/share-df/pkg/table"
)

func startEditor(t *testing.T) (*hub.Hub, string) {
	t.Helper()
	tbl, err := table.DecodeRecords(strings.NewReader(`[
		{"Name":"John","City":"New York","Salary":50000},
		{"Name":"Alice","City":"London","Salary":60000}
	]`))
	require.NoError(t, err)
	log, err := history.NewLog(tbl, history.Options{})
	require.NoError(t, err)
	h := hub.New(tbl, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rec := New(table.New(), Options{})
	c, err := Dial(ctx, url, rec)
	require.NoError(t, err)
	go func() { _ = c.Listen(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = c.Close()
	})
	require.Eventually(t, func() bool { return rec.UserID() != "" }, 2*time.Second, 10*time.Millisecond)
	return c
}

func TestClientEditPropagatesToPeer(t *testing.T) {
	h, url := startEditor(t)
	a := connect(t, url)
	b := connect(t, url)

	// seed both local copies from the host
	for _, c := range []*Client{a, b} {
		c.rec.ResetTable(mustHostTable(t, h))
	}
	rowID, err := a.rec.Table().RowID(0)
	require.NoError(t, err)

	require.NoError(t, a.EditCell(rowID, "Salary", float64(70000)))

	require.Eventually(t, func() bool {
		v, err := b.rec.Table().Cell(rowID, "Salary")
		return err == nil && v == float64(70000)
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.LogLen() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientAddColumnLandsViaBroadcastOnAllSessions(t *testing.T) {
	h, url := startEditor(t)
	a := connect(t, url)
	b := connect(t, url)
	for _, c := range []*Client{a, b} {
		c.rec.ResetTable(mustHostTable(t, h))
	}

	// "City" collides, so the host renames and every session, including
	// the originator, adopts the corrected name from the broadcast
	require.NoError(t, a.AddColumn("City"))

	for _, c := range []*Client{a, b} {
		require.Eventually(t, func() bool {
			fields := c.rec.Table().ColumnFields()
			return len(fields) == 4 && fields[3] == "New Column 1"
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestClientAddRowAgreesOnIdentity(t *testing.T) {
	h, url := startEditor(t)
	a := connect(t, url)
	b := connect(t, url)
	for _, c := range []*Client{a, b} {
		c.rec.ResetTable(mustHostTable(t, h))
	}

	rowID, err := a.AddRow()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := b.rec.Table().RowIndex(rowID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, err = h.Table().RowIndex(rowID)
	require.NoError(t, err)
	// the proposer applied it optimistically and must not double-append
	require.Equal(t, 3, a.rec.Table().RowCount())
}

func mustHostTable(t *testing.T, h *hub.Hub) *table.Table {
	t.Helper()
	tbl := h.Table()
	require.NotNil(t, tbl)
	return tbl
}
