package protocol

// Wire-level data shapes shared by payloads.

// Range is a half-open [Start, End) offset range within a cell's content.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ContentEdit is an atomic content change: replace Length characters at Pos
// with Content. Structural operations use their own payloads.
type ContentEdit struct {
	Pos     int    `json:"pos"`
	Length  int    `json:"length"`
	Content string `json:"content"`
}

// WireCell is the transportable form of a notebook cell. It never carries
// execution results.
type WireCell struct {
	ID       int                    `json:"id"`
	Language string                 `json:"language"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Comment is a cell comment as it travels on the wire.
type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Range     Range  `json:"range"`
	CreatedAt int64  `json:"createdAt"`
}

// NotebookConfig holds notebook-wide settings.
type NotebookConfig struct {
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	Resources    map[string]string   `json:"resources,omitempty"`
	Env          map[string]string   `json:"env,omitempty"`
}

// Content-mutation payloads. The matching Message carries the version pair.

type UpdateCellPayload struct {
	Path     string                 `json:"path"`
	CellID   int                    `json:"cellId"`
	Edits    []ContentEdit          `json:"edits"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type InsertCellPayload struct {
	Path string   `json:"path"`
	Cell WireCell `json:"cell"`
	Prev int      `json:"prev"`
}

type DeleteCellPayload struct {
	Path   string `json:"path"`
	CellID int    `json:"cellId"`
}

type UpdateConfigPayload struct {
	Path   string         `json:"path"`
	Config NotebookConfig `json:"config"`
}

type SetCellLanguagePayload struct {
	Path     string `json:"path"`
	CellID   int    `json:"cellId"`
	Language string `json:"language"`
}

type CreateCommentPayload struct {
	Path    string  `json:"path"`
	CellID  int     `json:"cellId"`
	Comment Comment `json:"comment"`
}

type UpdateCommentPayload struct {
	Path      string `json:"path"`
	CellID    int    `json:"cellId"`
	CommentID string `json:"commentId"`
	Content   string `json:"content"`
	Range     Range  `json:"range"`
}

type DeleteCommentPayload struct {
	Path      string `json:"path"`
	CellID    int    `json:"cellId"`
	CommentID string `json:"commentId"`
}

// Structural payloads carry only their semantic fields.

type RunCellPayload struct {
	Path    string `json:"path"`
	CellIDs []int  `json:"cellIds"`
}

type CancelTasksPayload struct {
	Path string `json:"path"`
}

type ClearOutputPayload struct {
	Path string `json:"path"`
}

type CurrentSelectionPayload struct {
	Path   string `json:"path"`
	CellID int    `json:"cellId"`
	Range  Range  `json:"range"`
}

type CompletionsAtPayload struct {
	Path   string `json:"path"`
	CellID int    `json:"cellId"`
	Pos    int    `json:"pos"`
}

type ParametersAtPayload struct {
	Path   string `json:"path"`
	CellID int    `json:"cellId"`
	Pos    int    `json:"pos"`
}

type CreateNotebookPayload struct {
	Path string `json:"path"`
}

type RenameNotebookPayload struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

type CopyNotebookPayload struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

type DeleteNotebookPayload struct {
	Path string `json:"path"`
}

type LoadNotebookPayload struct {
	Path string `json:"path"`
}

type ShutdownKernelPayload struct {
	Path string `json:"path"`
}
