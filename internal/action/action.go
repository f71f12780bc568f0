// Package action defines the closed set of user/system intents consumed by
// the dispatchers. Each variant is an immutable record carrying one intent;
// the sealed marker methods keep the set closed so dispatch switches can be
// audited for totality.
package action

import (
	"errors"

	"github.com/nbsync/nbclient/internal/protocol"
)

// ErrUnhandledAction is returned when a dispatcher receives a variant it has
// no branch for. That is a programming error, never a runtime condition.
var ErrUnhandledAction = errors.New("unhandled action variant")

// Action is the root of the intent hierarchy.
type Action interface {
	isAction()
}

// NotebookAction is an intent scoped to one open notebook.
type NotebookAction interface {
	Action
	isNotebookAction()
}

// ServerAction is an intent scoped to the whole client session.
type ServerAction interface {
	Action
	isServerAction()
}

type notebookAction struct{}

func (notebookAction) isAction()         {}
func (notebookAction) isNotebookAction() {}

type serverAction struct{}

func (serverAction) isAction()       {}
func (serverAction) isServerAction() {}

// Relative positions for selection actions.
const (
	RelativeAbove = "above"
	RelativeBelow = "below"
)

// Kernel commands.
const (
	KernelStart = "start"
	KernelKill  = "kill"
)

// --- Notebook-scoped actions ---

// CreateCell inserts a new cell after the cell with id Prev (Prev = -1
// inserts at the top).
type CreateCell struct {
	notebookAction
	Language string
	Content  string
	Metadata map[string]interface{}
	Prev     int
}

// UpdateCell applies content edits and an optional metadata replacement to
// one cell.
type UpdateCell struct {
	notebookAction
	CellID   int
	Edits    []protocol.ContentEdit
	Metadata map[string]interface{}
}

// DeleteCell removes a cell from the notebook.
type DeleteCell struct {
	notebookAction
	CellID int
}

// SetCellLanguage changes one cell's language.
type SetCellLanguage struct {
	notebookAction
	CellID   int
	Language string
}

// UpdateConfig replaces the notebook-wide configuration.
type UpdateConfig struct {
	notebookAction
	Config protocol.NotebookConfig
}

// RunCells queues the given cells for execution. An empty id list runs every
// cell in current order.
type RunCells struct {
	notebookAction
	CellIDs []int
}

// CancelTasks asks the authority to cancel all running tasks for the
// notebook.
type CancelTasks struct {
	notebookAction
}

// ClearCellOutput clears results for every cell and tells the authority to
// drop stored output.
type ClearCellOutput struct {
	notebookAction
}

// SetSelectedCell selects a cell, optionally relative to the given id.
// Selection never fails; an unresolvable neighbor degrades to the requested
// id, then to 0.
type SetSelectedCell struct {
	notebookAction
	CellID   int
	Relative string // "", RelativeAbove or RelativeBelow
}

// DeselectCell clears the active cell.
type DeselectCell struct {
	notebookAction
}

// CurrentSelection reports the user's cursor range in a cell to the
// authority.
type CurrentSelection struct {
	notebookAction
	CellID int
	Range  protocol.Range
}

// CreateComment attaches a new comment to a cell.
type CreateComment struct {
	notebookAction
	CellID  int
	Comment protocol.Comment
}

// UpdateComment edits an existing comment.
type UpdateComment struct {
	notebookAction
	CellID    int
	CommentID string
	Content   string
	Range     protocol.Range
}

// DeleteComment removes a comment from a cell.
type DeleteComment struct {
	notebookAction
	CellID    int
	CommentID string
}

// RequestCompletions asks for code completions at an offset in a cell. At
// most one completion request is in flight per notebook; a newer request
// rejects the previous OnResult with ErrSuperseded.
type RequestCompletions struct {
	notebookAction
	CellID   int
	Pos      int
	OnResult func(*protocol.Message, error)
}

// RequestSignature asks for parameter hints at an offset in a cell. Same
// supersession contract as RequestCompletions.
type RequestSignature struct {
	notebookAction
	CellID   int
	Pos      int
	OnResult func(*protocol.Message, error)
}

// Reconnect asks the session collaborator to re-establish the connection.
type Reconnect struct {
	notebookAction
}

// KernelCommand starts or kills the notebook's kernel. Kill is destructive
// and requires Confirm to return true before anything is sent.
type KernelCommand struct {
	notebookAction
	Command string // KernelStart or KernelKill
	Confirm func() bool
}

// --- Server-scoped actions ---

// LoadNotebook opens a notebook, creating its state and connection on first
// load. Idempotent when already loaded.
type LoadNotebook struct {
	serverAction
	Path string
}

// CreateNotebook asks the authority to create a new notebook.
type CreateNotebook struct {
	serverAction
	Path string
}

// RenameNotebook asks the authority to rename a notebook.
type RenameNotebook struct {
	serverAction
	Path    string
	NewPath string
}

// CopyNotebook asks the authority to copy a notebook.
type CopyNotebook struct {
	serverAction
	Path    string
	NewPath string
}

// DeleteNotebook asks the authority to delete a notebook.
type DeleteNotebook struct {
	serverAction
	Path string
}

// RequestNotebookList asks the authority for the notebook listing.
type RequestNotebookList struct {
	serverAction
}

// SetSelectedNotebook switches the active notebook tab. Local-only.
type SetSelectedNotebook struct {
	serverAction
	Path string
}

// CloseNotebook tears down an open notebook's state. Local-only.
type CloseNotebook struct {
	serverAction
	Path string
}

// ViewAbout surfaces client/server build information. Local-only; the core
// has nothing to mutate or send for it, but the variant must be matched.
type ViewAbout struct {
	serverAction
}
