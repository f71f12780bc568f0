package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nbsync/nbclient/internal/action"
	"github.com/nbsync/nbclient/internal/backup"
	"github.com/nbsync/nbclient/internal/notebook"
	"github.com/nbsync/nbclient/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*protocol.Message
}

func (f *fakeSender) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Reconnect(ctx context.Context) error { return nil }

func (f *fakeSender) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) types() []string {
	msgs := f.messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeSender, *[]string) {
	t.Helper()
	sender := &fakeSender{}
	store := backup.NewStore(backup.NewMemoryBackend())

	factory := func(ctx context.Context, path string) (*notebook.Dispatcher, error) {
		return notebook.NewDispatcher(ctx, path, nil, protocol.NotebookConfig{}, sender, store), nil
	}

	recents := []string{}
	updater := func(apply func([]string) []string) {
		recents = apply(recents)
	}

	return NewDispatcher(factory, sender, updater), sender, &recents
}

func TestLoadNotebookRegistersAndSelects(t *testing.T) {
	d, sender, recents := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, ok := d.Notebook("a.ipynb"); !ok {
		t.Fatal("notebook not registered after load")
	}
	if got := d.Current(); got != "a.ipynb" {
		t.Errorf("current = %q, want %q", got, "a.ipynb")
	}

	types := sender.types()
	if len(types) != 1 || types[0] != protocol.TypeLoadNotebook {
		t.Errorf("sent %v, want one %s", types, protocol.TypeLoadNotebook)
	}
	if len(*recents) != 1 || (*recents)[0] != "a.ipynb" {
		t.Errorf("recents = %v, want [a.ipynb]", *recents)
	}
}

func TestLoadNotebookIdempotent(t *testing.T) {
	d, sender, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	d.Dispatch(ctx, action.LoadNotebook{Path: "b.ipynb"})
	first, _ := d.Notebook("a.ipynb")

	// Reloading an open path only switches selection.
	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})

	again, _ := d.Notebook("a.ipynb")
	if again != first {
		t.Error("reload replaced the registered dispatcher")
	}
	if got := d.Current(); got != "a.ipynb" {
		t.Errorf("current = %q, want %q", got, "a.ipynb")
	}
	if n := len(sender.messages()); n != 2 {
		t.Errorf("sent %d load messages, want 2", n)
	}
}

func TestLoadNotebookFactoryFailure(t *testing.T) {
	sender := &fakeSender{}
	wantErr := errors.New("content fetch failed")
	d := NewDispatcher(func(ctx context.Context, path string) (*notebook.Dispatcher, error) {
		return nil, wantErr
	}, sender, nil)

	err := d.Dispatch(context.Background(), action.LoadNotebook{Path: "a.ipynb"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Dispatch = %v, want %v", err, wantErr)
	}
	if _, ok := d.Notebook("a.ipynb"); ok {
		t.Error("failed load left a registered notebook")
	}
	if got := d.Current(); got != "" {
		t.Errorf("current = %q, want empty", got)
	}
}

func TestSetSelectedNotebookLocalOnly(t *testing.T) {
	d, sender, recents := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	d.Dispatch(ctx, action.LoadNotebook{Path: "b.ipynb"})
	before := len(sender.messages())

	d.Dispatch(ctx, action.SetSelectedNotebook{Path: "a.ipynb"})

	if got := d.Current(); got != "a.ipynb" {
		t.Errorf("current = %q, want %q", got, "a.ipynb")
	}
	if n := len(sender.messages()); n != before {
		t.Errorf("selection sent %d extra messages, want 0", n-before)
	}
	if (*recents)[0] != "a.ipynb" {
		t.Errorf("recents head = %q, want %q", (*recents)[0], "a.ipynb")
	}
}

func TestCloseNotebook(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	d.Dispatch(ctx, action.LoadNotebook{Path: "b.ipynb"})

	d.Dispatch(ctx, action.CloseNotebook{Path: "b.ipynb"})

	if _, ok := d.Notebook("b.ipynb"); ok {
		t.Error("closed notebook still registered")
	}
	if got := d.Current(); got != "a.ipynb" {
		t.Errorf("current after close = %q, want %q", got, "a.ipynb")
	}
}

func TestPureSendActions(t *testing.T) {
	tests := []struct {
		name string
		act  action.ServerAction
		want string
	}{
		{"create", action.CreateNotebook{Path: "n.ipynb"}, protocol.TypeCreateNotebook},
		{"rename", action.RenameNotebook{Path: "a.ipynb", NewPath: "b.ipynb"}, protocol.TypeRenameNotebook},
		{"copy", action.CopyNotebook{Path: "a.ipynb", NewPath: "b.ipynb"}, protocol.TypeCopyNotebook},
		{"delete", action.DeleteNotebook{Path: "a.ipynb"}, protocol.TypeDeleteNotebook},
		{"list", action.RequestNotebookList{}, protocol.TypeListNotebooks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sender, _ := newTestDispatcher(t)
			if err := d.Dispatch(context.Background(), tt.act); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			types := sender.types()
			if len(types) != 1 || types[0] != tt.want {
				t.Errorf("sent %v, want one %s", types, tt.want)
			}
		})
	}
}

func TestDeleteNotebookClosesOpenPath(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	d.Dispatch(ctx, action.DeleteNotebook{Path: "a.ipynb"})

	if _, ok := d.Notebook("a.ipynb"); ok {
		t.Error("deleted notebook still registered")
	}
}

func TestViewAboutIsMatched(t *testing.T) {
	d, sender, _ := newTestDispatcher(t)

	if err := d.Dispatch(context.Background(), action.ViewAbout{}); err != nil {
		t.Fatalf("Dispatch = %v, want nil", err)
	}
	if n := len(sender.messages()); n != 0 {
		t.Errorf("ViewAbout sent %d messages, want 0", n)
	}
}

func TestPendingEditsAggregates(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	d.Dispatch(ctx, action.LoadNotebook{Path: "b.ipynb"})

	for _, path := range []string{"a.ipynb", "b.ipynb"} {
		nd, _ := d.Notebook(path)
		nd.Dispatch(ctx, action.CreateCell{Language: "python", Prev: -1})
	}

	if got := len(d.PendingEdits()); got != 2 {
		t.Errorf("aggregated pending edits = %d, want 2", got)
	}
}

func TestRouteAcknowledgesVersionedMessages(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	nd, _ := d.Notebook("a.ipynb")
	nd.Dispatch(ctx, action.CreateCell{Language: "python", Prev: -1})

	ack := protocol.New(protocol.TypeInsertCell, nil)
	ack.GlobalVersion = 1
	d.Route("a.ipynb", ack)

	if got := nd.Version().Global; got != 1 {
		t.Errorf("global version = %d, want 1", got)
	}
	if got := nd.PendingCount(); got != 0 {
		t.Errorf("pending count = %d, want 0", got)
	}
}

func TestRouteResolvesCompletions(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.Dispatch(ctx, action.LoadNotebook{Path: "a.ipynb"})
	nd, _ := d.Notebook("a.ipynb")

	var got *protocol.Message
	nd.Dispatch(ctx, action.RequestCompletions{CellID: 0, Pos: 1, OnResult: func(msg *protocol.Message, err error) {
		got = msg
	}})

	reply := protocol.New(protocol.TypeCompletionsAt, nil)
	d.Route("a.ipynb", reply)

	if got != reply {
		t.Error("completion reply not delivered to pending request")
	}
}
