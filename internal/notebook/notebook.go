// Package notebook holds per-notebook client state and the dispatcher that
// turns user intents into optimistic local mutations plus protocol messages.
package notebook

import (
	"github.com/nbsync/nbclient/internal/backup"
	"github.com/nbsync/nbclient/internal/protocol"
)

// Result is one piece of execution output attached to a cell.
type Result struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Cell is one notebook cell. ID is unique within the notebook and assigned
// monotonically. Queued, Results, Error, Selected, CurrentSelection and
// PendingEdits are transient and never persisted or backed up.
type Cell struct {
	ID       int
	Language string
	Content  string
	Metadata map[string]interface{}
	Comments map[string]protocol.Comment

	Queued           bool
	Results          []Result
	Error            string
	Selected         bool
	CurrentSelection protocol.Range
	PendingEdits     []protocol.ContentEdit
}

// Snapshot strips the transient execution state for backup.
func (c *Cell) Snapshot() backup.Cell {
	return backup.Cell{
		ID:       c.ID,
		Language: c.Language,
		Content:  c.Content,
		Metadata: c.Metadata,
		Comments: c.Comments,
	}
}

// SnapshotCells converts a cell list to its backup form, preserving order.
func SnapshotCells(cells []*Cell) []backup.Cell {
	out := make([]backup.Cell, len(cells))
	for i, c := range cells {
		out[i] = c.Snapshot()
	}
	return out
}

// VersionVector is the optimistic-concurrency pair. Global only advances on
// authority-confirmed messages and never decreases; Local increases by one
// per locally issued, not-yet-acknowledged edit.
type VersionVector struct {
	Global int
	Local  int
}

// State is the aggregate for one open notebook. It is mutated only through
// the Dispatcher, which serializes access.
type State struct {
	Path    string
	Cells   []*Cell
	Config  protocol.NotebookConfig
	Version VersionVector

	// ActiveCell is the selected cell id, -1 when nothing is selected.
	ActiveCell int
}

// NewState builds a notebook state from loaded content.
func NewState(path string, cells []*Cell, config protocol.NotebookConfig) *State {
	return &State{
		Path:       path,
		Cells:      cells,
		Config:     config,
		ActiveCell: -1,
	}
}

// CellIndex returns the position of the cell with the given id, or -1.
func (s *State) CellIndex(id int) int {
	for i, c := range s.Cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// CellByID returns the cell with the given id.
func (s *State) CellByID(id int) (*Cell, bool) {
	if i := s.CellIndex(id); i >= 0 {
		return s.Cells[i], true
	}
	return nil, false
}

// MaxCellID returns the largest cell id, or -1 when the notebook is empty.
func (s *State) MaxCellID() int {
	max := -1
	for _, c := range s.Cells {
		if c.ID > max {
			max = c.ID
		}
	}
	return max
}

// InsertAfter places c after the cell with id prev. prev = -1 inserts at the
// front; an unknown prev appends at the end.
func (s *State) InsertAfter(prev int, c *Cell) {
	if prev == -1 {
		s.Cells = append([]*Cell{c}, s.Cells...)
		return
	}
	idx := s.CellIndex(prev)
	if idx < 0 {
		s.Cells = append(s.Cells, c)
		return
	}
	s.Cells = append(s.Cells, nil)
	copy(s.Cells[idx+2:], s.Cells[idx+1:])
	s.Cells[idx+1] = c
}

// RemoveCell deletes the cell with the given id, reporting whether it
// existed.
func (s *State) RemoveCell(id int) bool {
	idx := s.CellIndex(id)
	if idx < 0 {
		return false
	}
	s.Cells = append(s.Cells[:idx], s.Cells[idx+1:]...)
	return true
}
