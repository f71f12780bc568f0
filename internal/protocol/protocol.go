package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageTypeCode represents binary message type codes (must match the
// authority's wire format exactly)
type MessageTypeCode byte

const (
	LIST_NOTEBOOKS    MessageTypeCode = 0x01
	CREATE_NOTEBOOK   MessageTypeCode = 0x02
	RENAME_NOTEBOOK   MessageTypeCode = 0x03
	COPY_NOTEBOOK     MessageTypeCode = 0x04
	DELETE_NOTEBOOK   MessageTypeCode = 0x05
	LOAD_NOTEBOOK     MessageTypeCode = 0x06
	KERNEL_STATUS     MessageTypeCode = 0x07
	SHUTDOWN_KERNEL   MessageTypeCode = 0x08
	UPDATE_CELL       MessageTypeCode = 0x10
	INSERT_CELL       MessageTypeCode = 0x11
	DELETE_CELL       MessageTypeCode = 0x12
	UPDATE_CONFIG     MessageTypeCode = 0x13
	SET_CELL_LANGUAGE MessageTypeCode = 0x14
	CREATE_COMMENT    MessageTypeCode = 0x15
	UPDATE_COMMENT    MessageTypeCode = 0x16
	DELETE_COMMENT    MessageTypeCode = 0x17
	RUN_CELL          MessageTypeCode = 0x20
	CANCEL_TASKS      MessageTypeCode = 0x21
	CLEAR_OUTPUT      MessageTypeCode = 0x22
	CURRENT_SELECTION MessageTypeCode = 0x23
	COMPLETIONS_AT    MessageTypeCode = 0x30
	PARAMETERS_AT     MessageTypeCode = 0x31
	ERROR             MessageTypeCode = 0xFF
)

// MessageType represents string message type names
const (
	TypeListNotebooks   = "list_notebooks"
	TypeCreateNotebook  = "create_notebook"
	TypeRenameNotebook  = "rename_notebook"
	TypeCopyNotebook    = "copy_notebook"
	TypeDeleteNotebook  = "delete_notebook"
	TypeLoadNotebook    = "load_notebook"
	TypeKernelStatus    = "kernel_status"
	TypeShutdownKernel  = "shutdown_kernel"
	TypeUpdateCell      = "update_cell"
	TypeInsertCell      = "insert_cell"
	TypeDeleteCell      = "delete_cell"
	TypeUpdateConfig    = "update_config"
	TypeSetCellLanguage = "set_cell_language"
	TypeCreateComment   = "create_comment"
	TypeUpdateComment   = "update_comment"
	TypeDeleteComment   = "delete_comment"
	TypeRunCell         = "run_cell"
	TypeCancelTasks     = "cancel_tasks"
	TypeClearOutput     = "clear_output"

	TypeCurrentSelection = "current_selection"
	TypeCompletionsAt    = "completions_at"
	TypeParametersAt     = "parameters_at"

	TypeError = "error"
)

// Map type codes to type names
var typeCodeToName = map[MessageTypeCode]string{
	LIST_NOTEBOOKS:    TypeListNotebooks,
	CREATE_NOTEBOOK:   TypeCreateNotebook,
	RENAME_NOTEBOOK:   TypeRenameNotebook,
	COPY_NOTEBOOK:     TypeCopyNotebook,
	DELETE_NOTEBOOK:   TypeDeleteNotebook,
	LOAD_NOTEBOOK:     TypeLoadNotebook,
	KERNEL_STATUS:     TypeKernelStatus,
	SHUTDOWN_KERNEL:   TypeShutdownKernel,
	UPDATE_CELL:       TypeUpdateCell,
	INSERT_CELL:       TypeInsertCell,
	DELETE_CELL:       TypeDeleteCell,
	UPDATE_CONFIG:     TypeUpdateConfig,
	SET_CELL_LANGUAGE: TypeSetCellLanguage,
	CREATE_COMMENT:    TypeCreateComment,
	UPDATE_COMMENT:    TypeUpdateComment,
	DELETE_COMMENT:    TypeDeleteComment,
	RUN_CELL:          TypeRunCell,
	CANCEL_TASKS:      TypeCancelTasks,
	CLEAR_OUTPUT:      TypeClearOutput,
	CURRENT_SELECTION: TypeCurrentSelection,
	COMPLETIONS_AT:    TypeCompletionsAt,
	PARAMETERS_AT:     TypeParametersAt,
	ERROR:             TypeError,
}

// Map type names to type codes
var typeNameToCode = map[string]MessageTypeCode{
	TypeListNotebooks:    LIST_NOTEBOOKS,
	TypeCreateNotebook:   CREATE_NOTEBOOK,
	TypeRenameNotebook:   RENAME_NOTEBOOK,
	TypeCopyNotebook:     COPY_NOTEBOOK,
	TypeDeleteNotebook:   DELETE_NOTEBOOK,
	TypeLoadNotebook:     LOAD_NOTEBOOK,
	TypeKernelStatus:     KERNEL_STATUS,
	TypeShutdownKernel:   SHUTDOWN_KERNEL,
	TypeUpdateCell:       UPDATE_CELL,
	TypeInsertCell:       INSERT_CELL,
	TypeDeleteCell:       DELETE_CELL,
	TypeUpdateConfig:     UPDATE_CONFIG,
	TypeSetCellLanguage:  SET_CELL_LANGUAGE,
	TypeCreateComment:    CREATE_COMMENT,
	TypeUpdateComment:    UPDATE_COMMENT,
	TypeDeleteComment:    DELETE_COMMENT,
	TypeRunCell:          RUN_CELL,
	TypeCancelTasks:      CANCEL_TASKS,
	TypeClearOutput:      CLEAR_OUTPUT,
	TypeCurrentSelection: CURRENT_SELECTION,
	TypeCompletionsAt:    COMPLETIONS_AT,
	TypeParametersAt:     PARAMETERS_AT,
	TypeError:            ERROR,
}

// versionedTypes are the content-mutation messages that carry the
// (globalVersion, localVersion) pair in the frame header.
var versionedTypes = map[string]bool{
	TypeUpdateCell:      true,
	TypeInsertCell:      true,
	TypeDeleteCell:      true,
	TypeUpdateConfig:    true,
	TypeSetCellLanguage: true,
	TypeCreateComment:   true,
	TypeUpdateComment:   true,
	TypeDeleteComment:   true,
}

// IsVersioned reports whether a message type carries the version pair.
func IsVersioned(messageType string) bool {
	return versionedTypes[messageType]
}

// Message represents one protocol message. Content-mutation messages carry
// the version pair; structural messages leave both at zero.
type Message struct {
	Type          string      `json:"type"`
	ID            string      `json:"id"`
	Timestamp     int64       `json:"timestamp"`
	GlobalVersion int         `json:"globalVersion"`
	LocalVersion  int         `json:"localVersion"`
	Payload       interface{} `json:"payload,omitempty"`
}

// New builds a message of the given type with a fresh id and timestamp.
func New(messageType string, payload interface{}) *Message {
	return &Message{
		Type:      messageType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Encode encodes a message to binary format.
// Format: [type:1][timestamp:8][global:4][local:4][payload_len:4][payload:JSON bytes]
func Encode(msg *Message) ([]byte, error) {
	typeCode, ok := typeNameToCode[msg.Type]
	if !ok {
		typeCode = ERROR
	}

	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	payloadLen := uint32(len(payloadJSON))

	// 1 (type) + 8 (timestamp) + 4 (global) + 4 (local) + 4 (length) + payload
	buf := make([]byte, 21+payloadLen)

	buf[0] = byte(typeCode)
	binary.BigEndian.PutUint64(buf[1:9], uint64(msg.Timestamp))
	binary.BigEndian.PutUint32(buf[9:13], uint32(msg.GlobalVersion))
	binary.BigEndian.PutUint32(buf[13:17], uint32(msg.LocalVersion))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[21:], payloadJSON)

	return buf, nil
}

// Decode decodes a binary or JSON message
func Decode(data []byte) (*Message, error) {
	// JSON text protocol (starts with '{' or '[')
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}

		message := &Message{
			Payload: msg,
		}

		if t, ok := msg["type"].(string); ok {
			message.Type = t
		}
		if id, ok := msg["id"].(string); ok {
			message.ID = id
		}
		if ts, ok := msg["timestamp"].(float64); ok {
			message.Timestamp = int64(ts)
		}
		if gv, ok := msg["globalVersion"].(float64); ok {
			message.GlobalVersion = int(gv)
		}
		if lv, ok := msg["localVersion"].(float64); ok {
			message.LocalVersion = int(lv)
		}

		return message, nil
	}

	// Binary protocol
	if len(data) < 21 {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	typeCode := MessageTypeCode(data[0])
	timestamp := int64(binary.BigEndian.Uint64(data[1:9]))
	globalVersion := int(binary.BigEndian.Uint32(data[9:13]))
	localVersion := int(binary.BigEndian.Uint32(data[13:17]))
	payloadLen := binary.BigEndian.Uint32(data[17:21])

	// Compare against the available bytes; adding to payloadLen could wrap.
	if payloadLen > uint32(len(data)-21) {
		return nil, fmt.Errorf("incomplete message: payload length %d exceeds %d available bytes", payloadLen, len(data)-21)
	}

	payloadBytes := data[21 : 21+payloadLen]
	var payload map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	typeName, ok := typeCodeToName[typeCode]
	if !ok {
		typeName = TypeError
	}

	message := &Message{
		Type:          typeName,
		Timestamp:     timestamp,
		GlobalVersion: globalVersion,
		LocalVersion:  localVersion,
		Payload:       payload,
	}

	if id, ok := payload["id"].(string); ok {
		message.ID = id
	}

	return message, nil
}
