// Package wire implements C7, the BDP wire codec (spec.md §4.7): a common
// JSON envelope shared by every control frame, plus the
// [u16 BE header length][header JSON][raw bytes] binary framing used for
// chunk transfer. Grounded on the teacher's Graph API payload structs
// (internal/graph/types.go), generalized from one-way REST DTOs to a
// tagged two-way frame union.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/butterflysync/bdp/internal/model"
)

// ProtocolVersion is the wire envelope's v field (spec.md §4.7 "Version
// byte v:1").
const ProtocolVersion = 1

// FrameType tags the envelope's payload shape (spec.md §4.7).
type FrameType string

// Frame type values.
const (
	FrameHello              FrameType = "HELLO"
	FrameMerkle             FrameType = "MERKLE"
	FrameIndexRequest       FrameType = "INDEX_REQUEST"
	FrameIndexResponse      FrameType = "INDEX_RESPONSE"
	FrameChunkRequest       FrameType = "CHUNK_REQUEST"
	FrameChunk              FrameType = "CHUNK"
	FrameAck                FrameType = "ACK"
	FrameConflict           FrameType = "CONFLICT"
	FrameConflictResolution FrameType = "CONFLICT_RESOLUTION"
	FrameDone               FrameType = "DONE"
	FrameError              FrameType = "ERROR"
	FramePing               FrameType = "PING"
	FramePong               FrameType = "PONG"
)

// AckStatus values (spec.md §4.7 "ACK").
const (
	AckOK           = "ok"
	AckWriteError   = "write_error"
	AckHashMismatch = "hash_mismatch"
)

// MaxIndexResponseBatch is the spec.md §6 "Max chunks per INDEX_RESPONSE
// batch".
const MaxIndexResponseBatch = 500

// Envelope is the common frame wrapper every control message carries
// (spec.md §4.7).
type Envelope struct {
	CP           bool            `json:"cp"`
	V            int             `json:"v"`
	Type         FrameType       `json:"type"`
	PairID       string          `json:"pairId"`
	MsgID        string          `json:"msgId"`
	FromDeviceID string          `json:"fromDeviceId"`
	TS           int64           `json:"ts"`
	Payload      json.RawMessage `json:"payload"`
}

// HelloPayload is the HELLO frame payload.
type HelloPayload struct {
	DeviceName   string           `json:"deviceName"`
	Capabilities []string         `json:"capabilities"`
	PublicKeyB64 string           `json:"publicKeyB64"`
	Pairs        []HelloPairState `json:"pairs"`
}

// HelloPairState is one entry of HelloPayload.Pairs.
type HelloPairState struct {
	PairID     string `json:"pairId"`
	MerkleRoot string `json:"merkleRoot"`
	MaxSeq     uint64 `json:"maxSeq"`
	IndexID    string `json:"indexId"`
}

// MerklePayload is the MERKLE frame payload.
type MerklePayload struct {
	NodePath    string            `json:"nodePath"`
	NodeHash    string            `json:"nodeHash"`
	ChildHashes map[string]string `json:"childHashes"`
}

// IndexRequestPayload is the INDEX_REQUEST frame payload.
type IndexRequestPayload struct {
	SinceSeq uint64 `json:"sinceSeq"`
}

// IndexResponsePayload is the INDEX_RESPONSE frame payload. Sent in
// batches of at most MaxIndexResponseBatch entries (spec.md §4.7).
type IndexResponsePayload struct {
	Entries      []model.FileEntry `json:"entries"`
	IsComplete   bool              `json:"isComplete"`
	TotalEntries int               `json:"totalEntries"`
	SenderMaxSeq uint64            `json:"senderMaxSeq"`
}

// ChunkRequestPayload is the CHUNK_REQUEST frame payload.
type ChunkRequestPayload struct {
	TransferID  string   `json:"transferId"`
	Path        string   `json:"path"`
	HaveChunks  []string `json:"haveChunks"`
	NeedChunks  []string `json:"needChunks"`
	TotalChunks int      `json:"totalChunks"`
}

// ChunkHeader is the header of a binary CHUNK frame (spec.md §4.7).
type ChunkHeader struct {
	TransferID   string `json:"transferId"`
	ChunkHash    string `json:"chunkHash"`
	ChunkIndex   int    `json:"chunkIndex"`
	IsLast       bool   `json:"isLast"`
	Compressed   bool   `json:"compressed"`
	OriginalSize int64  `json:"originalSize"`
}

// AckPayload is the ACK frame payload.
type AckPayload struct {
	TransferID   string `json:"transferId"`
	Path         string `json:"path"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ConflictPayload is the CONFLICT frame payload.
type ConflictPayload struct {
	Path           string            `json:"path"`
	LocalEntry     *model.FileEntry  `json:"localEntry"`
	RemoteEntry    *model.FileEntry  `json:"remoteEntry"`
	AutoResolution model.Resolution  `json:"autoResolution"`
}

// ConflictResolutionPayload is the CONFLICT_RESOLUTION frame payload.
type ConflictResolutionPayload struct {
	Path       string           `json:"path"`
	Resolution model.Resolution `json:"resolution"`
}

// DonePayload is the DONE frame payload.
type DonePayload struct {
	Stats         model.TransferStats `json:"stats"`
	NewMerkleRoot string              `json:"newMerkleRoot"`
	NewMaxSeq     uint64              `json:"newMaxSeq"`
}

// ErrorPayload is the ERROR frame payload.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// PingPongPayload is the PING/PONG frame payload.
type PingPongPayload struct {
	Nonce string `json:"nonce"`
}

// EncodeControl marshals an envelope carrying payload into its JSON wire
// form.
func EncodeControl(env Envelope, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}

	env.CP = true
	env.V = ProtocolVersion
	env.Payload = raw

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}

	return out, nil
}

// LooksLikeControlFrame is the cheap cp:true fast-discriminant for
// rejecting non-BDP text messages before attempting a full parse (spec.md
// §4.7).
func LooksLikeControlFrame(msg []byte) bool {
	return bytes.Contains(msg, []byte(`"cp":true`)) || strings.Contains(string(msg), `"cp": true`)
}

// DecodeControl fully parses msg into its envelope, returning an error if
// it is not a well-formed BDP frame.
func DecodeControl(msg []byte) (Envelope, error) {
	if !LooksLikeControlFrame(msg) {
		return Envelope{}, fmt.Errorf("wire: not a bdp control frame")
	}

	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}

	if !env.CP || env.V != ProtocolVersion {
		return Envelope{}, fmt.Errorf("wire: unsupported envelope (cp=%v v=%d)", env.CP, env.V)
	}

	return env, nil
}

// minBinaryFrameLen is the cheap binary fast-discriminant threshold
// (spec.md §4.7: "a binary message is accepted if its byte length exceeds
// 4").
const minBinaryFrameLen = 4

// LooksLikeChunkFrame reports whether a binary message is plausibly a CHUNK
// frame, before attempting to parse its header.
func LooksLikeChunkFrame(msg []byte) bool {
	return len(msg) > minBinaryFrameLen
}

// EncodeChunk builds a binary CHUNK frame: [u16 BE header length][header
// JSON][raw chunk bytes].
func EncodeChunk(header ChunkHeader, data []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal chunk header: %w", err)
	}

	if len(headerJSON) > 0xFFFF {
		return nil, fmt.Errorf("wire: chunk header too large: %d bytes", len(headerJSON))
	}

	buf := make([]byte, 2+len(headerJSON)+len(data))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(headerJSON)))
	copy(buf[2:], headerJSON)
	copy(buf[2+len(headerJSON):], data)

	return buf, nil
}

// DecodeChunk parses a binary CHUNK frame produced by EncodeChunk.
func DecodeChunk(msg []byte) (ChunkHeader, []byte, error) {
	if len(msg) < 2 {
		return ChunkHeader{}, nil, fmt.Errorf("wire: chunk frame too short")
	}

	headerLen := int(binary.BigEndian.Uint16(msg[0:2]))
	if len(msg) < 2+headerLen {
		return ChunkHeader{}, nil, fmt.Errorf("wire: chunk frame truncated header")
	}

	var header ChunkHeader
	if err := json.Unmarshal(msg[2:2+headerLen], &header); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("wire: decode chunk header: %w", err)
	}

	return header, msg[2+headerLen:], nil
}

// ReadChunkFrame reads one length-prefixed CHUNK frame from r (for
// transports that frame at a lower layer and hand wire a contiguous
// byte stream instead of a discrete binary message). The chunk body is
// everything after the header up to the end of r, so r must hold exactly
// one frame.
func ReadChunkFrame(r io.Reader) (ChunkHeader, []byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("wire: read header length: %w", err)
	}

	headerLen := binary.BigEndian.Uint16(lenBuf[:])

	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("wire: read header: %w", err)
	}

	var header ChunkHeader
	if err := json.Unmarshal(headerBuf, &header); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("wire: decode chunk header: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("wire: read chunk body: %w", err)
	}

	return header, data, nil
}
