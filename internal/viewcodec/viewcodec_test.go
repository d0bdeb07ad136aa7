package viewcodec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

func sampleSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Cycle: 4,
		State: "ranked",
		Ranked: []pipeline.RankedView{
			{Rank: 1, Ordinal: "1st", Class: "cat", Score: 0.9},
			{Rank: 2, Ordinal: "2nd", Class: "dog", Score: 0.4},
		},
		Renderable: []types.Detection{
			{Class: "cat", Score: 0.9, BBox: types.BoundingBox{X: 1, Y: 2, W: 3, H: 4}},
		},
		Visible:             []string{"cat", "dog"},
		Excluded:            []string{"person"},
		Counts:              map[string]int{"cat": 1, "dog": 1},
		VisibleChanged:      true,
		RateHz:              19.5,
		ConfidenceThreshold: 0.5,
		TargetFrameRate:     20,
	}
}

func TestProtobufRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	ev, err := Encode(snap)
	require.NoError(t, err)

	got, err := DecodeProtobuf(ev.ProtobufData)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("protobuf round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONFieldNames(t *testing.T) {
	ev, err := Encode(sampleSnapshot())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(ev.JSONData, &m))
	for _, key := range []string{"ranked", "renderable", "visible", "excluded", "counts", "rate_hz"} {
		require.Contains(t, m, key)
	}
}

func TestWriterOneLinePerSnapshot(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatJSON)
	require.NoError(t, w.Write(sampleSnapshot()))
	require.NoError(t, w.Write(pipeline.Snapshot{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, json.Valid([]byte(lines[0])))
}

func TestWriterProtobufEvent(t *testing.T) {
	ev, err := Encode(sampleSnapshot())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, FormatProtobuf).WriteEvent(ev))
	require.Equal(t, string(ev.ProtobufData)+"\n", buf.String())
}

func TestFormatSelection(t *testing.T) {
	require.Equal(t, FormatProtobuf, FormatForAccept("application/x-protobuf, */*"))
	require.Equal(t, FormatJSON, FormatForAccept("text/event-stream"))

	f, err := ParseFormat("proto")
	require.NoError(t, err)
	require.Equal(t, FormatProtobuf, f)
	_, err = ParseFormat("xml")
	require.Error(t, err)
}
