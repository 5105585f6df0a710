// Package wire implements the framed message protocol peers speak to each
// other: a length-prefixed, zlib-compressed JSON envelope (Frame) carrying
// one of a small set of tagged Message variants.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type selects which payload a Message carries. It is transmitted as the
// JSON "type" field and never appears on the wire as a bare integer.
type Type string

const (
	TypeBeacon   Type = "BEACON"
	TypeDirState Type = "DIR_STATE"
	TypeCreate   Type = "CREATE"
	TypeModify   Type = "MODIFY"
	TypeDelete   Type = "DELETE"
	TypeRename   Type = "RENAME"
)

func (t Type) String() string { return string(t) }

// Message is the envelope every framed payload decodes into. Data holds one
// of Beacon, DirState, Create, Modify, Delete or Rename depending on Type.
// ID uniquely identifies this message for log correlation across peers; it
// carries no protocol meaning and callers never branch on it.
type Message struct {
	Type Type
	ID   string
	Data any
}

// FileStat is the per-file record carried inside a DIR_STATE message.
type FileStat struct {
	Path string  `json:"path"`
	Mtime float64 `json:"mtime"`
	Size  uint64  `json:"size"`
	Sig   []byte  `json:"sig"`
}

// Beacon is sent over UDP only, never framed through the TCP codec.
type Beacon struct {
	Port uint16 `json:"port"`
}

// DirState carries a full local directory snapshot plus per-file signatures,
// exchanged once at the start of every session.
type DirState struct {
	Files []FileStat `json:"files"`
}

// Create announces a new file along with its full content.
type Create struct {
	Path  string  `json:"path"`
	Mtime float64 `json:"mtime"`
	Bytes []byte  `json:"bytes"`
}

// Modify announces a change to an existing file as an rsync-style delta.
type Modify struct {
	Path  string  `json:"path"`
	Mtime float64 `json:"mtime"`
	Delta []byte  `json:"delta"`
}

// Delete announces a file removal.
type Delete struct {
	Path  string  `json:"path"`
	Mtime float64 `json:"mtime"`
}

// Rename announces a path move.
type Rename struct {
	Src   string  `json:"src"`
	Dst   string  `json:"dst"`
	Mtime float64 `json:"mtime"`
}

func NewBeacon(port uint16) *Message {
	return &Message{Type: TypeBeacon, ID: uuid.NewString(), Data: Beacon{Port: port}}
}

func NewDirState(files []FileStat) *Message {
	return &Message{Type: TypeDirState, ID: uuid.NewString(), Data: DirState{Files: files}}
}

func NewCreate(path string, mtime float64, bytes []byte) *Message {
	return &Message{Type: TypeCreate, ID: uuid.NewString(), Data: Create{Path: path, Mtime: mtime, Bytes: bytes}}
}

func NewModify(path string, mtime float64, delta []byte) *Message {
	return &Message{Type: TypeModify, ID: uuid.NewString(), Data: Modify{Path: path, Mtime: mtime, Delta: delta}}
}

func NewDelete(path string, mtime float64) *Message {
	return &Message{Type: TypeDelete, ID: uuid.NewString(), Data: Delete{Path: path, Mtime: mtime}}
}

func NewRename(src, dst string, mtime float64) *Message {
	return &Message{Type: TypeRename, ID: uuid.NewString(), Data: Rename{Src: src, Dst: dst, Mtime: mtime}}
}

// MarshalJSON flattens Message into a single object carrying "type" plus
// the fields of whichever payload Data holds, matching the wire format.
func (m Message) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(m.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.Type, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", m.Type, err)
	}

	typeJSON, _ := json.Marshal(m.Type)
	fields["type"] = typeJSON

	idJSON, _ := json.Marshal(m.ID)
	fields["id"] = idJSON

	return json.Marshal(fields)
}

// UnmarshalJSON dispatches on the "type" field to decode Data into the
// matching payload struct.
func (m *Message) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type Type   `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("probe message type: %w", err)
	}

	m.Type = probe.Type
	m.ID = probe.ID
	switch probe.Type {
	case TypeBeacon:
		var v Beacon
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Data = v
	case TypeDirState:
		var v DirState
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Data = v
	case TypeCreate:
		var v Create
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Data = v
	case TypeModify:
		var v Modify
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Data = v
	case TypeDelete:
		var v Delete
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Data = v
	case TypeRename:
		var v Rename
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Data = v
	default:
		return fmt.Errorf("unknown message type: %q", probe.Type)
	}

	return nil
}
