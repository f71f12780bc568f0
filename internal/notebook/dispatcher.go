package notebook

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/nbsync/nbclient/internal/action"
	"github.com/nbsync/nbclient/internal/backup"
	"github.com/nbsync/nbclient/internal/metrics"
	"github.com/nbsync/nbclient/internal/protocol"
)

// ErrSuperseded rejects a pending completion/signature request when a newer
// request of the same kind replaces it.
var ErrSuperseded = errors.New("request superseded by a newer one")

// Session is the transport collaborator the dispatcher talks to. Send is
// fire-and-forget; queuing and backpressure are the session's concern.
type Session interface {
	Send(msg *protocol.Message) error
	Reconnect(ctx context.Context) error
}

type pendingRequest struct {
	resolve func(*protocol.Message, error)
}

// Dispatcher consumes notebook-scoped actions: it mutates notebook state
// optimistically, emits the matching protocol message, and buffers the edit
// for replay until the authority acknowledges it. All error conditions
// degrade to local-only state changes; dispatch itself never rolls back.
type Dispatcher struct {
	mu     sync.Mutex
	state  *State
	buffer EditBuffer

	session Session
	store   *backup.Store

	completions *pendingRequest
	signature   *pendingRequest
}

// NewDispatcher builds the dispatcher for one open notebook and seeds the
// backup store with the loaded content.
func NewDispatcher(ctx context.Context, path string, cells []*Cell, config protocol.NotebookConfig, session Session, store *backup.Store) *Dispatcher {
	d := &Dispatcher{
		state:   NewState(path, cells, config),
		session: session,
		store:   store,
	}
	if store != nil {
		if err := store.AddNotebook(ctx, path, SnapshotCells(cells), config); err != nil {
			log.Printf("backup seed failed for %s: %v", path, err)
		}
	}
	return d
}

// Path returns the notebook path.
func (d *Dispatcher) Path() string {
	return d.state.Path
}

// Version returns the current version vector.
func (d *Dispatcher) Version() VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Version
}

// PendingCount returns the number of unacknowledged buffered edits.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer.Len()
}

// PendingEdits returns the unacknowledged messages in local-version order,
// for replay after a reconnect.
func (d *Dispatcher) PendingEdits() []*protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer.Pending()
}

// Snapshot returns a copy of the cells and config for inspection.
func (d *Dispatcher) Snapshot() ([]*Cell, protocol.NotebookConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cells := make([]*Cell, len(d.state.Cells))
	copy(cells, d.state.Cells)
	return cells, d.state.Config
}

// ActiveCell returns the selected cell id, -1 when none.
func (d *Dispatcher) ActiveCell() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ActiveCell
}

// Acknowledge applies an authority confirmation: the global version
// advances (never decreases) and buffered edits subsumed by it are pruned.
func (d *Dispatcher) Acknowledge(globalVersion int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if globalVersion > d.state.Version.Global {
		d.state.Version.Global = globalVersion
	}
	d.buffer.Prune(globalVersion)
	pendingEdits.WithLabelValues(d.state.Path).Set(float64(d.buffer.Len()))
}

// Dispatch handles one notebook-scoped action. It returns after the
// optimistic mutation and the outbound send are both issued. An unmatched
// variant returns action.ErrUnhandledAction.
func (d *Dispatcher) Dispatch(ctx context.Context, act action.NotebookAction) error {
	metrics.ActionsDispatched.WithLabelValues("notebook").Inc()

	switch a := act.(type) {
	case action.CreateCell:
		d.createCell(ctx, a)
	case action.UpdateCell:
		d.updateCell(ctx, a)
	case action.DeleteCell:
		d.deleteCell(ctx, a)
	case action.SetCellLanguage:
		d.setCellLanguage(ctx, a)
	case action.UpdateConfig:
		d.updateConfig(ctx, a)
	case action.RunCells:
		d.runCells(a)
	case action.CancelTasks:
		d.send(protocol.New(protocol.TypeCancelTasks, protocol.CancelTasksPayload{Path: d.state.Path}))
	case action.ClearCellOutput:
		d.clearCellOutput(a)
	case action.SetSelectedCell:
		d.setSelectedCell(a)
	case action.DeselectCell:
		d.deselectCell()
	case action.CurrentSelection:
		d.currentSelection(a)
	case action.CreateComment:
		d.createComment(ctx, a)
	case action.UpdateComment:
		d.updateComment(ctx, a)
	case action.DeleteComment:
		d.deleteComment(ctx, a)
	case action.RequestCompletions:
		d.requestCompletions(a)
	case action.RequestSignature:
		d.requestSignature(a)
	case action.Reconnect:
		if err := d.session.Reconnect(ctx); err != nil {
			log.Printf("reconnect failed for %s: %v", d.state.Path, err)
		}
	case action.KernelCommand:
		d.kernelCommand(a)
	default:
		return action.ErrUnhandledAction
	}
	return nil
}

// sendVersioned runs the content-mutation pipeline under the state lock:
// bump the local version, build the message with the version pair, send it,
// buffer it, apply the optimistic mutation, then record the edit in the
// backup store. build runs under the lock so payload construction (id
// allocation included) is atomic with the version bump.
func (d *Dispatcher) sendVersioned(ctx context.Context, messageType string, build func() (interface{}, func())) {
	d.mu.Lock()

	payload, mutate := build()

	d.state.Version.Local++
	msg := protocol.New(messageType, payload)
	msg.GlobalVersion = d.state.Version.Global
	msg.LocalVersion = d.state.Version.Local

	if err := d.session.Send(msg); err != nil {
		// Transport trouble is the session's problem; the optimistic
		// mutation still applies and the edit stays buffered for replay.
		log.Printf("send %s failed for %s: %v", messageType, d.state.Path, err)
	}

	d.buffer.Append(msg.LocalVersion, msg)
	mutate()
	pendingEdits.WithLabelValues(d.state.Path).Set(float64(d.buffer.Len()))

	cells := SnapshotCells(d.state.Cells)
	config := d.state.Config
	path := d.state.Path
	d.mu.Unlock()

	d.recordBackupUpdate(ctx, path, msg, cells, config)
}

func (d *Dispatcher) recordBackupUpdate(ctx context.Context, path string, msg *protocol.Message, cells []backup.Cell, config protocol.NotebookConfig) {
	if d.store == nil {
		return
	}
	err := d.store.UpdateNotebook(ctx, path, msg)
	if errors.Is(err, backup.ErrNotFound) {
		// Store was cleared since load; reseed with the post-edit content.
		err = d.store.AddNotebook(ctx, path, cells, config)
	}
	if err != nil {
		log.Printf("backup update failed for %s: %v", path, err)
	}
}

func (d *Dispatcher) send(msg *protocol.Message) {
	if err := d.session.Send(msg); err != nil {
		log.Printf("send %s failed for %s: %v", msg.Type, d.state.Path, err)
	}
}

func (d *Dispatcher) createCell(ctx context.Context, a action.CreateCell) {
	d.sendVersioned(ctx, protocol.TypeInsertCell, func() (interface{}, func()) {
		// Best-effort local allocation: two clients inserting concurrently
		// can pick the same id; the authority arbitrates the final
		// ordering.
		id := d.state.MaxCellID() + 1

		cell := &Cell{
			ID:       id,
			Language: a.Language,
			Content:  a.Content,
			Metadata: a.Metadata,
		}

		payload := protocol.InsertCellPayload{
			Path: d.state.Path,
			Cell: protocol.WireCell{
				ID:       id,
				Language: a.Language,
				Content:  a.Content,
				Metadata: a.Metadata,
			},
			Prev: a.Prev,
		}

		return payload, func() {
			d.state.InsertAfter(a.Prev, cell)
		}
	})
}

func (d *Dispatcher) updateCell(ctx context.Context, a action.UpdateCell) {
	payload := protocol.UpdateCellPayload{
		Path:     d.state.Path,
		CellID:   a.CellID,
		Edits:    a.Edits,
		Metadata: a.Metadata,
	}
	d.sendVersioned(ctx, protocol.TypeUpdateCell, func() (interface{}, func()) {
		return payload, func() {
			cell, ok := d.state.CellByID(a.CellID)
			if !ok {
				return
			}
			cell.Content = applyEdits(cell.Content, a.Edits)
			if a.Metadata != nil {
				cell.Metadata = a.Metadata
			}
		}
	})
}

func (d *Dispatcher) deleteCell(ctx context.Context, a action.DeleteCell) {
	payload := protocol.DeleteCellPayload{Path: d.state.Path, CellID: a.CellID}
	d.sendVersioned(ctx, protocol.TypeDeleteCell, func() (interface{}, func()) {
		return payload, func() {
			// Buffered edits referencing the cell stay put; the authority
			// resolves their ordering against the deletion.
			d.state.RemoveCell(a.CellID)
		}
	})
}

func (d *Dispatcher) setCellLanguage(ctx context.Context, a action.SetCellLanguage) {
	payload := protocol.SetCellLanguagePayload{Path: d.state.Path, CellID: a.CellID, Language: a.Language}
	d.sendVersioned(ctx, protocol.TypeSetCellLanguage, func() (interface{}, func()) {
		return payload, func() {
			if cell, ok := d.state.CellByID(a.CellID); ok {
				cell.Language = a.Language
			}
		}
	})
}

func (d *Dispatcher) updateConfig(ctx context.Context, a action.UpdateConfig) {
	payload := protocol.UpdateConfigPayload{Path: d.state.Path, Config: a.Config}
	d.sendVersioned(ctx, protocol.TypeUpdateConfig, func() (interface{}, func()) {
		return payload, func() {
			d.state.Config = a.Config
		}
	})
}

func (d *Dispatcher) runCells(a action.RunCells) {
	d.mu.Lock()

	ids := a.CellIDs
	if len(ids) == 0 {
		// Empty id list is sugar for "run everything in current order".
		ids = make([]int, len(d.state.Cells))
		for i, c := range d.state.Cells {
			ids[i] = c.ID
		}
	}

	for _, id := range ids {
		if cell, ok := d.state.CellByID(id); ok {
			cell.Queued = true
			cell.Results = nil
			cell.Error = ""
		}
	}
	d.mu.Unlock()

	d.send(protocol.New(protocol.TypeRunCell, protocol.RunCellPayload{Path: d.state.Path, CellIDs: ids}))
}

func (d *Dispatcher) clearCellOutput(_ action.ClearCellOutput) {
	d.mu.Lock()
	for _, cell := range d.state.Cells {
		cell.Results = nil
		cell.Error = ""
	}
	d.mu.Unlock()

	d.send(protocol.New(protocol.TypeClearOutput, protocol.ClearOutputPayload{Path: d.state.Path}))
}

// setSelectedCell resolves relative selection against the current cell
// order. Selection never fails: a missing neighbor degrades to the
// requested id, and a missing id degrades to 0.
func (d *Dispatcher) setSelectedCell(a action.SetSelectedCell) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := a.CellID
	idx := d.state.CellIndex(a.CellID)

	switch a.Relative {
	case action.RelativeAbove:
		if idx > 0 {
			target = d.state.Cells[idx-1].ID
		}
	case action.RelativeBelow:
		if idx >= 0 && idx < len(d.state.Cells)-1 {
			target = d.state.Cells[idx+1].ID
		}
	}

	if d.state.CellIndex(target) < 0 {
		if idx >= 0 {
			target = a.CellID
		} else {
			target = 0
		}
	}

	d.state.ActiveCell = target
	for _, cell := range d.state.Cells {
		cell.Selected = cell.ID == target
	}
}

func (d *Dispatcher) deselectCell() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.ActiveCell = -1
	for _, cell := range d.state.Cells {
		cell.Selected = false
	}
}

func (d *Dispatcher) currentSelection(a action.CurrentSelection) {
	d.mu.Lock()
	if cell, ok := d.state.CellByID(a.CellID); ok {
		cell.CurrentSelection = a.Range
	}
	d.mu.Unlock()

	d.send(protocol.New(protocol.TypeCurrentSelection, protocol.CurrentSelectionPayload{
		Path:   d.state.Path,
		CellID: a.CellID,
		Range:  a.Range,
	}))
}

func (d *Dispatcher) createComment(ctx context.Context, a action.CreateComment) {
	payload := protocol.CreateCommentPayload{Path: d.state.Path, CellID: a.CellID, Comment: a.Comment}
	d.sendVersioned(ctx, protocol.TypeCreateComment, func() (interface{}, func()) {
		return payload, func() {
			if cell, ok := d.state.CellByID(a.CellID); ok {
				if cell.Comments == nil {
					cell.Comments = make(map[string]protocol.Comment)
				}
				cell.Comments[a.Comment.ID] = a.Comment
			}
		}
	})
}

func (d *Dispatcher) updateComment(ctx context.Context, a action.UpdateComment) {
	payload := protocol.UpdateCommentPayload{
		Path:      d.state.Path,
		CellID:    a.CellID,
		CommentID: a.CommentID,
		Content:   a.Content,
		Range:     a.Range,
	}
	d.sendVersioned(ctx, protocol.TypeUpdateComment, func() (interface{}, func()) {
		return payload, func() {
			cell, ok := d.state.CellByID(a.CellID)
			if !ok {
				return
			}
			if comment, ok := cell.Comments[a.CommentID]; ok {
				comment.Content = a.Content
				comment.Range = a.Range
				cell.Comments[a.CommentID] = comment
			}
		}
	})
}

func (d *Dispatcher) deleteComment(ctx context.Context, a action.DeleteComment) {
	payload := protocol.DeleteCommentPayload{Path: d.state.Path, CellID: a.CellID, CommentID: a.CommentID}
	d.sendVersioned(ctx, protocol.TypeDeleteComment, func() (interface{}, func()) {
		return payload, func() {
			if cell, ok := d.state.CellByID(a.CellID); ok {
				delete(cell.Comments, a.CommentID)
			}
		}
	})
}

// requestCompletions keeps at most one completion request in flight: the
// previous request's callback is rejected with ErrSuperseded before the new
// request goes out.
func (d *Dispatcher) requestCompletions(a action.RequestCompletions) {
	d.mu.Lock()
	prev := d.completions
	d.completions = &pendingRequest{resolve: a.OnResult}
	d.mu.Unlock()

	if prev != nil && prev.resolve != nil {
		prev.resolve(nil, ErrSuperseded)
	}

	d.send(protocol.New(protocol.TypeCompletionsAt, protocol.CompletionsAtPayload{
		Path:   d.state.Path,
		CellID: a.CellID,
		Pos:    a.Pos,
	}))
}

func (d *Dispatcher) requestSignature(a action.RequestSignature) {
	d.mu.Lock()
	prev := d.signature
	d.signature = &pendingRequest{resolve: a.OnResult}
	d.mu.Unlock()

	if prev != nil && prev.resolve != nil {
		prev.resolve(nil, ErrSuperseded)
	}

	d.send(protocol.New(protocol.TypeParametersAt, protocol.ParametersAtPayload{
		Path:   d.state.Path,
		CellID: a.CellID,
		Pos:    a.Pos,
	}))
}

// ResolveCompletions delivers the authority's completion response to the
// pending request, if any.
func (d *Dispatcher) ResolveCompletions(msg *protocol.Message) {
	d.mu.Lock()
	req := d.completions
	d.completions = nil
	d.mu.Unlock()

	if req != nil && req.resolve != nil {
		req.resolve(msg, nil)
	}
}

// ResolveSignature delivers the authority's parameter-hint response to the
// pending request, if any.
func (d *Dispatcher) ResolveSignature(msg *protocol.Message) {
	d.mu.Lock()
	req := d.signature
	d.signature = nil
	d.mu.Unlock()

	if req != nil && req.resolve != nil {
		req.resolve(msg, nil)
	}
}

func (d *Dispatcher) kernelCommand(a action.KernelCommand) {
	switch a.Command {
	case action.KernelKill:
		// Destructive: requires explicit confirmation before the message
		// goes out.
		if a.Confirm == nil || !a.Confirm() {
			return
		}
		d.send(protocol.New(protocol.TypeShutdownKernel, protocol.ShutdownKernelPayload{Path: d.state.Path}))
	case action.KernelStart:
		// A status request wakes the kernel; there is no separate start
		// message in the protocol.
		d.send(protocol.New(protocol.TypeKernelStatus, nil))
	}
}

// applyEdits folds content edits over a cell's text. Offsets are byte
// positions; out-of-range values clamp rather than fail.
func applyEdits(content string, edits []protocol.ContentEdit) string {
	for _, e := range edits {
		pos := e.Pos
		if pos < 0 {
			pos = 0
		}
		if pos > len(content) {
			pos = len(content)
		}
		end := pos + e.Length
		if end > len(content) {
			end = len(content)
		}
		content = content[:pos] + e.Content + content[end:]
	}
	return content
}
