// Package server holds the session-wide dispatcher: the registry of open
// notebooks and the handling of intents that are not scoped to any one of
// them.
package server

import (
	"context"
	"log"
	"sync"

	"github.com/nbsync/nbclient/internal/action"
	"github.com/nbsync/nbclient/internal/metrics"
	"github.com/nbsync/nbclient/internal/notebook"
	"github.com/nbsync/nbclient/internal/protocol"
)

// Factory builds the per-notebook dispatcher when a path is first loaded.
// It is expected to fetch or construct the notebook's initial content.
type Factory func(ctx context.Context, path string) (*notebook.Dispatcher, error)

// RecentsUpdater rewrites the recently-opened list. apply receives the
// current list and returns the new one; persistence is the caller's concern.
type RecentsUpdater func(apply func(recents []string) []string)

// Sender is the outbound half of the transport, for messages that belong to
// no open notebook (listing, create, rename, copy, delete).
type Sender interface {
	Send(msg *protocol.Message) error
}

// Dispatcher routes session-wide actions and owns the registry of open
// notebooks. Notebook-scoped traffic goes through the per-path
// notebook.Dispatcher obtained from Notebook.
type Dispatcher struct {
	mu        sync.Mutex
	notebooks map[string]*notebook.Dispatcher
	current   string

	factory Factory
	recents RecentsUpdater
	sender  Sender
}

// NewDispatcher builds the session dispatcher. recents may be nil when no
// recently-opened tracking is wanted.
func NewDispatcher(factory Factory, sender Sender, recents RecentsUpdater) *Dispatcher {
	return &Dispatcher{
		notebooks: make(map[string]*notebook.Dispatcher),
		factory:   factory,
		recents:   recents,
		sender:    sender,
	}
}

// Notebook returns the dispatcher for an open path.
func (d *Dispatcher) Notebook(path string) (*notebook.Dispatcher, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nd, ok := d.notebooks[path]
	return nd, ok
}

// Current returns the selected notebook path, empty when none is open.
func (d *Dispatcher) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// OpenPaths lists every open notebook path.
func (d *Dispatcher) OpenPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(d.notebooks))
	for path := range d.notebooks {
		paths = append(paths, path)
	}
	return paths
}

// Dispatch handles one session-wide action. An unmatched variant returns
// action.ErrUnhandledAction.
func (d *Dispatcher) Dispatch(ctx context.Context, act action.ServerAction) error {
	metrics.ActionsDispatched.WithLabelValues("server").Inc()

	switch a := act.(type) {
	case action.LoadNotebook:
		return d.loadNotebook(ctx, a.Path)
	case action.SetSelectedNotebook:
		d.setSelectedNotebook(a.Path)
	case action.CloseNotebook:
		d.closeNotebook(a.Path)
	case action.CreateNotebook:
		d.send(protocol.New(protocol.TypeCreateNotebook, protocol.CreateNotebookPayload{Path: a.Path}))
	case action.RenameNotebook:
		d.send(protocol.New(protocol.TypeRenameNotebook, protocol.RenameNotebookPayload{Path: a.Path, NewPath: a.NewPath}))
	case action.CopyNotebook:
		d.send(protocol.New(protocol.TypeCopyNotebook, protocol.CopyNotebookPayload{Path: a.Path, NewPath: a.NewPath}))
	case action.DeleteNotebook:
		d.deleteNotebook(a.Path)
	case action.RequestNotebookList:
		d.send(protocol.New(protocol.TypeListNotebooks, nil))
	case action.ViewAbout:
		// Presentation-only; nothing to mutate or send.
	default:
		return action.ErrUnhandledAction
	}
	return nil
}

// loadNotebook opens a path: on first load it asks the authority for the
// content, builds the notebook dispatcher and registers it. Loading an
// already-open path just selects it.
func (d *Dispatcher) loadNotebook(ctx context.Context, path string) error {
	d.mu.Lock()
	if _, ok := d.notebooks[path]; ok {
		d.current = path
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	d.send(protocol.New(protocol.TypeLoadNotebook, protocol.LoadNotebookPayload{Path: path}))

	nd, err := d.factory(ctx, path)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if existing, ok := d.notebooks[path]; ok {
		// A concurrent load won the race; keep the registered dispatcher.
		nd = existing
	} else {
		d.notebooks[path] = nd
	}
	d.current = path
	d.mu.Unlock()

	d.touchRecents(path)
	return nil
}

func (d *Dispatcher) setSelectedNotebook(path string) {
	d.mu.Lock()
	if _, ok := d.notebooks[path]; ok {
		d.current = path
	}
	d.mu.Unlock()

	d.touchRecents(path)
}

// closeNotebook drops a path from the registry. Local-only; buffered edits
// for the path are discarded with it.
func (d *Dispatcher) closeNotebook(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.notebooks, path)
	if d.current == path {
		d.current = ""
		for p := range d.notebooks {
			d.current = p
			break
		}
	}
}

// deleteNotebook asks the authority to delete the path and closes it locally
// if it was open.
func (d *Dispatcher) deleteNotebook(path string) {
	d.send(protocol.New(protocol.TypeDeleteNotebook, protocol.DeleteNotebookPayload{Path: path}))
	d.closeNotebook(path)
}

// touchRecents moves path to the front of the recently-opened list.
func (d *Dispatcher) touchRecents(path string) {
	if d.recents == nil {
		return
	}
	d.recents(func(recents []string) []string {
		out := make([]string, 0, len(recents)+1)
		out = append(out, path)
		for _, p := range recents {
			if p != path {
				out = append(out, p)
			}
		}
		return out
	})
}

// PendingEdits aggregates the unacknowledged edits of every open notebook in
// local-version order per path, for replay after a reconnect.
func (d *Dispatcher) PendingEdits() []*protocol.Message {
	d.mu.Lock()
	dispatchers := make([]*notebook.Dispatcher, 0, len(d.notebooks))
	for _, nd := range d.notebooks {
		dispatchers = append(dispatchers, nd)
	}
	d.mu.Unlock()

	var out []*protocol.Message
	for _, nd := range dispatchers {
		out = append(out, nd.PendingEdits()...)
	}
	return out
}

// Route delivers an inbound authority message to the notebook it concerns.
// Version acknowledgements advance the version vector and prune the edit
// buffer; completion and parameter-hint replies resolve pending requests.
func (d *Dispatcher) Route(path string, msg *protocol.Message) {
	nd, ok := d.Notebook(path)
	if !ok {
		log.Printf("dropping %s for unopened notebook %s", msg.Type, path)
		return
	}

	switch msg.Type {
	case protocol.TypeCompletionsAt:
		nd.ResolveCompletions(msg)
	case protocol.TypeParametersAt:
		nd.ResolveSignature(msg)
	default:
		if protocol.IsVersioned(msg.Type) {
			nd.Acknowledge(msg.GlobalVersion)
		}
	}
}

func (d *Dispatcher) send(msg *protocol.Message) {
	if err := d.sender.Send(msg); err != nil {
		log.Printf("send %s failed: %v", msg.Type, err)
	}
}
