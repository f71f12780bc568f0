package notebook

import (
	"testing"

	"github.com/nbsync/nbclient/internal/protocol"
)

func cellIDs(cells []*Cell) []int {
	ids := make([]int, len(cells))
	for i, c := range cells {
		ids[i] = c.ID
	}
	return ids
}

func TestStateInsertAfter(t *testing.T) {
	tests := []struct {
		name    string
		initial []int
		prev    int
		newID   int
		want    []int
	}{
		{"front of empty notebook", nil, -1, 0, []int{0}},
		{"front of populated notebook", []int{0, 1}, -1, 2, []int{2, 0, 1}},
		{"after first", []int{0, 1}, 0, 2, []int{0, 2, 1}},
		{"after last", []int{0, 1}, 1, 2, []int{0, 1, 2}},
		{"unknown prev appends", []int{0, 1}, 7, 2, []int{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("nb.ipynb", makeCells(tt.initial), protocol.NotebookConfig{})
			s.InsertAfter(tt.prev, &Cell{ID: tt.newID})

			got := cellIDs(s.Cells)
			if len(got) != len(tt.want) {
				t.Fatalf("got ids %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got ids %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestStateMaxCellID(t *testing.T) {
	s := NewState("nb.ipynb", nil, protocol.NotebookConfig{})
	if got := s.MaxCellID(); got != -1 {
		t.Errorf("MaxCellID() on empty = %d, want -1", got)
	}

	s.Cells = makeCells([]int{3, 0, 7, 2})
	if got := s.MaxCellID(); got != 7 {
		t.Errorf("MaxCellID() = %d, want 7", got)
	}
}

func TestStateRemoveCell(t *testing.T) {
	s := NewState("nb.ipynb", makeCells([]int{0, 1, 2}), protocol.NotebookConfig{})

	if !s.RemoveCell(1) {
		t.Fatal("RemoveCell(1) = false, want true")
	}
	if got := cellIDs(s.Cells); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("cells after remove = %v, want [0 2]", got)
	}
	if s.RemoveCell(1) {
		t.Error("RemoveCell(1) on missing cell = true, want false")
	}
}

func makeCells(ids []int) []*Cell {
	cells := make([]*Cell, len(ids))
	for i, id := range ids {
		cells[i] = &Cell{ID: id}
	}
	return cells
}

func TestSnapshotStripsTransientState(t *testing.T) {
	c := &Cell{
		ID:       4,
		Language: "python",
		Content:  "print(1)",
		Queued:   true,
		Results:  []Result{{MimeType: "text/plain", Data: "1"}},
		Error:    "boom",
		Selected: true,
	}

	snap := c.Snapshot()
	if snap.ID != 4 || snap.Language != "python" || snap.Content != "print(1)" {
		t.Errorf("Snapshot() lost persistent fields: %+v", snap)
	}
}
