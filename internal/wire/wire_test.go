package wire

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	env := Envelope{Type: FrameHello, PairID: "pair1", MsgID: "msg1", FromDeviceID: "dev1", TS: 1234}
	payload := HelloPayload{DeviceName: "laptop", Capabilities: []string{"sync"}}

	raw, err := EncodeControl(env, payload)
	require.NoError(t, err)

	decoded, err := DecodeControl(raw)
	require.NoError(t, err)
	require.Equal(t, FrameHello, decoded.Type)
	require.True(t, decoded.CP)
	require.Equal(t, ProtocolVersion, decoded.V)

	var gotPayload HelloPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &gotPayload))
	require.Equal(t, payload, gotPayload)
}

func TestDecodeControlRejectsNonBDPMessage(t *testing.T) {
	_, err := DecodeControl([]byte(`{"hello":"world"}`))
	require.Error(t, err)
}

func TestLooksLikeControlFrame(t *testing.T) {
	require.True(t, LooksLikeControlFrame([]byte(`{"cp":true,"v":1}`)))
	require.False(t, LooksLikeControlFrame([]byte(`{"other":"stuff"}`)))
}

func TestEncodeDecodeChunkRoundTrip(t *testing.T) {
	header := ChunkHeader{TransferID: "t1", ChunkHash: "hash1", ChunkIndex: 0, IsLast: true, OriginalSize: 5}
	data := []byte("hello")

	frame, err := EncodeChunk(header, data)
	require.NoError(t, err)
	require.True(t, LooksLikeChunkFrame(frame))

	gotHeader, gotData, err := DecodeChunk(frame)
	require.NoError(t, err)
	require.Equal(t, header, gotHeader)
	require.Equal(t, data, gotData)
}

func TestReadChunkFrameFromStream(t *testing.T) {
	header := ChunkHeader{TransferID: "t1", ChunkHash: "hash1", ChunkIndex: 2, IsLast: false}
	data := []byte("chunk payload bytes")

	frame, err := EncodeChunk(header, data)
	require.NoError(t, err)

	gotHeader, gotData, err := ReadChunkFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, header, gotHeader)
	require.Equal(t, data, gotData)
}

func TestDecodeChunkTruncatedHeaderErrors(t *testing.T) {
	_, _, err := DecodeChunk([]byte{0, 10, 1, 2})
	require.Error(t, err)
}
