package notebook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nbsync/nbclient/internal/action"
	"github.com/nbsync/nbclient/internal/backup"
	"github.com/nbsync/nbclient/internal/protocol"
)

type fakeSession struct {
	mu         sync.Mutex
	sent       []*protocol.Message
	sendErr    error
	reconnects int
}

func (f *fakeSession) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSession) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeSession) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestDispatcher(t *testing.T, ids []int) (*Dispatcher, *fakeSession, *backup.Store) {
	t.Helper()
	sess := &fakeSession{}
	store := backup.NewStore(backup.NewMemoryBackend())
	d := NewDispatcher(context.Background(), "nb.ipynb", makeCells(ids), protocol.NotebookConfig{}, sess, store)
	return d, sess, store
}

func TestDispatchBumpsLocalVersionGapFree(t *testing.T) {
	d, _, _ := newTestDispatcher(t, []int{0})
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		if err := d.Dispatch(ctx, action.UpdateCell{
			CellID: 0,
			Edits:  []protocol.ContentEdit{{Pos: 0, Length: 0, Content: "x"}},
		}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}

	if got := d.Version().Local; got != n {
		t.Errorf("local version = %d, want %d", got, n)
	}
	if got := d.PendingCount(); got != n {
		t.Errorf("pending count = %d, want %d", got, n)
	}

	pending := d.PendingEdits()
	for i, msg := range pending {
		if msg.LocalVersion != i+1 {
			t.Errorf("pending[%d].LocalVersion = %d, want %d", i, msg.LocalVersion, i+1)
		}
	}
}

func TestAcknowledgePrunesAndAdvancesGlobal(t *testing.T) {
	d, _, _ := newTestDispatcher(t, []int{0})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d.Dispatch(ctx, action.UpdateCell{CellID: 0, Edits: []protocol.ContentEdit{{Content: "x"}}})
	}

	d.Acknowledge(2)
	if got := d.Version().Global; got != 2 {
		t.Errorf("global version = %d, want 2", got)
	}
	if got := d.PendingCount(); got != 2 {
		t.Errorf("pending count after ack = %d, want 2", got)
	}

	// A stale confirmation never winds the global version back.
	d.Acknowledge(1)
	if got := d.Version().Global; got != 2 {
		t.Errorf("global version after stale ack = %d, want 2", got)
	}
}

func TestCreateCellAllocatesNextID(t *testing.T) {
	d, sess, _ := newTestDispatcher(t, []int{0, 1})

	err := d.Dispatch(context.Background(), action.CreateCell{Language: "python", Content: "y = 2", Prev: 0})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	cells, _ := d.Snapshot()
	if got := cellIDs(cells); len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 1 {
		t.Errorf("cells after insert = %v, want [0 2 1]", got)
	}

	msgs := sess.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].Type != protocol.TypeInsertCell {
		t.Errorf("message type = %q, want %q", msgs[0].Type, protocol.TypeInsertCell)
	}
	if msgs[0].LocalVersion != 1 {
		t.Errorf("message local version = %d, want 1", msgs[0].LocalVersion)
	}
	payload, ok := msgs[0].Payload.(protocol.InsertCellPayload)
	if !ok {
		t.Fatalf("payload type = %T, want InsertCellPayload", msgs[0].Payload)
	}
	if payload.Cell.ID != 2 || payload.Prev != 0 {
		t.Errorf("payload cell id = %d prev = %d, want 2 and 0", payload.Cell.ID, payload.Prev)
	}
}

func TestUpdateCellAppliesEdits(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	d.state.Cells = []*Cell{{ID: 0, Content: "hello world"}}

	d.Dispatch(context.Background(), action.UpdateCell{
		CellID: 0,
		Edits:  []protocol.ContentEdit{{Pos: 6, Length: 5, Content: "go"}},
	})

	cells, _ := d.Snapshot()
	if got := cells[0].Content; got != "hello go" {
		t.Errorf("content = %q, want %q", got, "hello go")
	}
}

func TestDeleteCellKeepsBufferedEdits(t *testing.T) {
	d, _, _ := newTestDispatcher(t, []int{0, 1})
	ctx := context.Background()

	d.Dispatch(ctx, action.UpdateCell{CellID: 1, Edits: []protocol.ContentEdit{{Content: "x"}}})
	d.Dispatch(ctx, action.DeleteCell{CellID: 1})

	cells, _ := d.Snapshot()
	if got := cellIDs(cells); len(got) != 1 || got[0] != 0 {
		t.Errorf("cells after delete = %v, want [0]", got)
	}
	// The edit against the deleted cell stays buffered for the authority to
	// order against the deletion.
	if got := d.PendingCount(); got != 2 {
		t.Errorf("pending count = %d, want 2", got)
	}
}

func TestRunCellsEmptyRunsAll(t *testing.T) {
	d, sess, _ := newTestDispatcher(t, []int{2, 0, 1})
	d.state.Cells[0].Results = []Result{{MimeType: "text/plain", Data: "old"}}
	d.state.Cells[0].Error = "old failure"

	d.Dispatch(context.Background(), action.RunCells{})

	cells, _ := d.Snapshot()
	for _, c := range cells {
		if !c.Queued {
			t.Errorf("cell %d not queued", c.ID)
		}
		if c.Results != nil || c.Error != "" {
			t.Errorf("cell %d kept stale output", c.ID)
		}
	}

	msgs := sess.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	payload := msgs[0].Payload.(protocol.RunCellPayload)
	if got := payload.CellIDs; len(got) != 3 || got[0] != 2 || got[1] != 0 || got[2] != 1 {
		t.Errorf("run ids = %v, want [2 0 1]", got)
	}
	// Run requests carry no version pair.
	if msgs[0].LocalVersion != 0 {
		t.Errorf("run message local version = %d, want 0", msgs[0].LocalVersion)
	}
}

func TestSetSelectedCell(t *testing.T) {
	tests := []struct {
		name     string
		ids      []int
		cellID   int
		relative string
		want     int
	}{
		{"direct selection", []int{0, 1, 2}, 1, "", 1},
		{"above", []int{0, 1, 2}, 1, action.RelativeAbove, 0},
		{"below", []int{0, 1, 2}, 1, action.RelativeBelow, 2},
		{"above first falls back to itself", []int{0, 1, 2}, 0, action.RelativeAbove, 0},
		{"below last falls back to itself", []int{0, 1, 2}, 2, action.RelativeBelow, 2},
		{"unknown id degrades to zero", []int{0, 1, 2}, 9, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sess, _ := newTestDispatcher(t, tt.ids)
			d.Dispatch(context.Background(), action.SetSelectedCell{CellID: tt.cellID, Relative: tt.relative})

			if got := d.ActiveCell(); got != tt.want {
				t.Errorf("active cell = %d, want %d", got, tt.want)
			}
			cells, _ := d.Snapshot()
			for _, c := range cells {
				if c.Selected != (c.ID == tt.want) {
					t.Errorf("cell %d selected = %v", c.ID, c.Selected)
				}
			}
			// Selection is local-only.
			if n := len(sess.messages()); n != 0 {
				t.Errorf("selection sent %d messages, want 0", n)
			}
		})
	}
}

func TestDeselectCell(t *testing.T) {
	d, _, _ := newTestDispatcher(t, []int{0, 1})
	ctx := context.Background()

	d.Dispatch(ctx, action.SetSelectedCell{CellID: 1})
	d.Dispatch(ctx, action.DeselectCell{})

	if got := d.ActiveCell(); got != -1 {
		t.Errorf("active cell = %d, want -1", got)
	}
}

func TestRequestCompletionsSupersedes(t *testing.T) {
	d, sess, _ := newTestDispatcher(t, []int{0})
	ctx := context.Background()

	var firstErr error
	d.Dispatch(ctx, action.RequestCompletions{CellID: 0, Pos: 3, OnResult: func(_ *protocol.Message, err error) {
		firstErr = err
	}})

	var secondMsg *protocol.Message
	d.Dispatch(ctx, action.RequestCompletions{CellID: 0, Pos: 5, OnResult: func(msg *protocol.Message, err error) {
		secondMsg = msg
	}})

	if !errors.Is(firstErr, ErrSuperseded) {
		t.Errorf("first request resolved with %v, want ErrSuperseded", firstErr)
	}

	reply := protocol.New(protocol.TypeCompletionsAt, nil)
	d.ResolveCompletions(reply)
	if secondMsg != reply {
		t.Error("second request did not receive the authority reply")
	}

	if n := len(sess.messages()); n != 2 {
		t.Errorf("sent %d completion requests, want 2", n)
	}
}

func TestKernelKillNeedsConfirmation(t *testing.T) {
	d, sess, _ := newTestDispatcher(t, []int{0})
	ctx := context.Background()

	d.Dispatch(ctx, action.KernelCommand{Command: action.KernelKill, Confirm: func() bool { return false }})
	if n := len(sess.messages()); n != 0 {
		t.Fatalf("declined kill sent %d messages, want 0", n)
	}

	d.Dispatch(ctx, action.KernelCommand{Command: action.KernelKill, Confirm: func() bool { return true }})
	msgs := sess.messages()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeShutdownKernel {
		t.Fatalf("confirmed kill sent %v, want one %s", msgs, protocol.TypeShutdownKernel)
	}
}

func TestDispatchRecordsBackupUpdates(t *testing.T) {
	d, _, store := newTestDispatcher(t, []int{0})
	ctx := context.Background()

	d.Dispatch(ctx, action.UpdateCell{CellID: 0, Edits: []protocol.ContentEdit{{Content: "x"}}})

	bs, err := store.GetBackups(ctx, "nb.ipynb")
	if err != nil {
		t.Fatalf("GetBackups: %v", err)
	}
	if got := bs.Count(); got != 1 {
		t.Fatalf("snapshot count = %d, want 1", got)
	}
	var updates int
	for _, bucket := range bs.Buckets {
		for _, b := range bucket {
			updates += len(b.Updates)
		}
	}
	if updates != 1 {
		t.Errorf("recorded %d updates, want 1", updates)
	}
}

func TestDispatchSurvivesSendFailure(t *testing.T) {
	d, sess, _ := newTestDispatcher(t, []int{0})
	sess.sendErr = errors.New("socket closed")

	d.Dispatch(context.Background(), action.UpdateCell{
		CellID: 0,
		Edits:  []protocol.ContentEdit{{Content: "x"}},
	})

	// The optimistic mutation applies and the edit stays buffered for
	// replay even when the transport is down.
	cells, _ := d.Snapshot()
	if got := cells[0].Content; got != "x" {
		t.Errorf("content = %q, want %q", got, "x")
	}
	if got := d.PendingCount(); got != 1 {
		t.Errorf("pending count = %d, want 1", got)
	}
}

func TestDispatchReconnect(t *testing.T) {
	d, sess, _ := newTestDispatcher(t, []int{0})

	d.Dispatch(context.Background(), action.Reconnect{})
	if sess.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", sess.reconnects)
	}
}

func TestApplyEditsClamps(t *testing.T) {
	tests := []struct {
		name    string
		content string
		edits   []protocol.ContentEdit
		want    string
	}{
		{"insert", "abc", []protocol.ContentEdit{{Pos: 1, Length: 0, Content: "X"}}, "aXbc"},
		{"replace", "abc", []protocol.ContentEdit{{Pos: 0, Length: 2, Content: "Z"}}, "Zc"},
		{"delete", "abc", []protocol.ContentEdit{{Pos: 1, Length: 1}}, "ac"},
		{"pos past end clamps", "abc", []protocol.ContentEdit{{Pos: 10, Length: 2, Content: "X"}}, "abcX"},
		{"length past end clamps", "abc", []protocol.ContentEdit{{Pos: 2, Length: 10, Content: "X"}}, "abX"},
		{"negative pos clamps", "abc", []protocol.ContentEdit{{Pos: -1, Length: 1, Content: "X"}}, "Xbc"},
		{"sequential edits", "abc", []protocol.ContentEdit{
			{Pos: 3, Length: 0, Content: "d"},
			{Pos: 0, Length: 1, Content: "A"},
		}, "Abcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyEdits(tt.content, tt.edits); got != tt.want {
				t.Errorf("applyEdits(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
