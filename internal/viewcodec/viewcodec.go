// Package viewcodec serializes pipeline snapshots for renderers that live
// outside the process.
package viewcodec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
)

// Format selects the encoding of a snapshot.
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// ParseFormat accepts "json", "protobuf" or "proto".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "protobuf", "proto":
		return FormatProtobuf, nil
	default:
		return "", fmt.Errorf("unknown snapshot format %q", s)
	}
}

// FormatForAccept picks protobuf when an Accept header asks for it.
func FormatForAccept(accept string) Format {
	if strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf") {
		return FormatProtobuf
	}
	return FormatJSON
}

// SerializedEvent holds one snapshot pre-encoded in both formats.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 of a google.protobuf.Struct
}

// Data returns the payload for f.
func (e *SerializedEvent) Data(f Format) []byte {
	if f == FormatProtobuf {
		return e.ProtobufData
	}
	return e.JSONData
}

// Encode serializes snap in both formats.
func Encode(snap pipeline.Snapshot) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot json: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("flatten snapshot: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build snapshot struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// DecodeProtobuf reverses the protobuf half of Encode.
func DecodeProtobuf(data []byte) (pipeline.Snapshot, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("decode base64: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	jsonData, err := json.Marshal(st.AsMap())
	if err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("flatten protobuf struct: %w", err)
	}
	var snap pipeline.Snapshot
	if err := json.Unmarshal(jsonData, &snap); err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Writer emits one encoded snapshot per line. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewWriter returns a Writer encoding with format.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format}
}

// Write encodes and writes snap followed by a newline.
func (w *Writer) Write(snap pipeline.Snapshot) error {
	ev, err := Encode(snap)
	if err != nil {
		return err
	}
	return w.WriteEvent(ev)
}

// WriteEvent writes an already encoded snapshot.
func (w *Writer) WriteEvent(ev *SerializedEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.w, "%s\n", ev.Data(w.format)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
