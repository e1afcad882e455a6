package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haveloc/servehub/internal/core"
)

func singleTarget(site string) core.Target {
	return core.SingleTarget(&core.Servable{UUID: "u1", Namespace: "alice", Name: "model1", Site: site})
}

func fanoutTarget(sites ...string) core.Target {
	servables := make([]*core.Servable, len(sites))
	for i, s := range sites {
		servables[i] = &core.Servable{UUID: s, Site: s}
	}
	return core.FanoutTarget(servables)
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeRun, false},
		{"run", ModeRun, false},
		{"test", ModeTest, false},
		{"test_cache", ModeTestWithCache, false},
		{"debug", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			require.Error(t, err, "mode %q", tt.in)
			assert.True(t, core.IsCategory(err, core.ErrCatValidation))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []interface{}{int64(1), int64(2), int64(3)}
	frame, err := EncodeRequest(ModeRun, singleTarget("site-a"), payload)
	require.NoError(t, err)

	req, err := DecodeRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, ModeRun, req.Mode)
	assert.False(t, req.Fanout)
	assert.Equal(t, []string{"site-a"}, req.Sites)
	assert.Equal(t, payload, req.Payload)
}

func TestRequestCarriesFanoutTag(t *testing.T) {
	t.Parallel()
	frame, err := EncodeRequest(ModeRun, fanoutTarget("s1", "s2"), "x")
	require.NoError(t, err)

	req, err := DecodeRequest(frame)
	require.NoError(t, err)
	assert.True(t, req.Fanout)
	assert.Equal(t, []string{"s1", "s2"}, req.Sites)
}

func TestDecodeReplySingle(t *testing.T) {
	t.Parallel()
	frame, err := EncodeReply(&Reply{
		Results:       []interface{}{[]interface{}{1, 2, 3}},
		ComputeTimeMS: 42,
	})
	require.NoError(t, err)

	res, err := DecodeReply(frame)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, res.Value)
	assert.Equal(t, int64(42), res.ComputeTimeMS)
}

func TestDecodeReplyFanout(t *testing.T) {
	t.Parallel()
	frame, err := EncodeReply(&Reply{
		Fanout:  true,
		Results: []interface{}{"first", "second"},
	})
	require.NoError(t, err)

	res, err := DecodeReply(frame)
	require.NoError(t, err)
	list, ok := res.Value.([]interface{})
	require.True(t, ok, "fanout reply must decode to a list")
	assert.Equal(t, []interface{}{"first", "second"}, list)
}

func TestDecodeReplyWorkerError(t *testing.T) {
	t.Parallel()
	frame, err := EncodeReply(&Reply{Err: "servable exploded"})
	require.NoError(t, err)

	_, err = DecodeReply(frame)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatWorker))
	assert.Contains(t, err.Error(), "servable exploded")
}

func TestDecodeReplyEmptyFrame(t *testing.T) {
	t.Parallel()
	_, err := DecodeReply(nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatBroker))
}

func TestDecodeReplySingleWithNoResults(t *testing.T) {
	t.Parallel()
	frame, err := EncodeReply(&Reply{})
	require.NoError(t, err)

	_, err = DecodeReply(frame)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatBroker))
}

func TestPayloadFromInputData(t *testing.T) {
	t.Parallel()
	payload, err := PayloadFromInput(json.RawMessage(`{"data": [1.5, 2.5]}`), "")
	require.NoError(t, err)
	m, ok := payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{1.5, 2.5}, m["data"])
}

func TestPayloadFromInputEncoded(t *testing.T) {
	t.Parallel()
	// A typed numeric array that plain JSON cannot express losslessly.
	blob, err := cbor.Marshal([]uint16{7, 8, 9})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(blob)

	payload, err := PayloadFromInput(nil, encoded)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(7), int64(8), int64(9)}, payload)
}

func TestPayloadFromInputRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		data    json.RawMessage
		encoded string
	}{
		{"neither", nil, ""},
		{"both", json.RawMessage(`1`), "AQ=="},
		{"bad json", json.RawMessage(`{`), ""},
		{"bad base64", nil, "!!!"},
		{"bad cbor", nil, base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := PayloadFromInput(tt.data, tt.encoded)
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatValidation))
		})
	}
}

func TestNormalizeNumericArraysToPlainLists(t *testing.T) {
	t.Parallel()
	// Mixed CBOR-decoded shapes collapse to JSON-native values.
	in := map[interface{}]interface{}{
		"ints":   []interface{}{uint64(1), int32(-2), uint8(3)},
		"floats": []interface{}{float32(1.5), float64(2.5)},
		"nested": map[interface{}]interface{}{"k": []interface{}{uint16(9)}},
	}
	got := Normalize(in)
	want := map[string]interface{}{
		"ints":   []interface{}{int64(1), int64(-2), int64(3)},
		"floats": []interface{}{1.5, 2.5},
		"nested": map[string]interface{}{"k": []interface{}{int64(9)}},
	}
	assert.Equal(t, want, got)

	// The normalized tree must be encodable by encoding/json.
	_, err := json.Marshal(got)
	require.NoError(t, err)
}
