package wire

import (
	"bytes"
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	bufs, err := msg.Encode()
	require.NoError(t, err)

	var flat bytes.Buffer
	for _, b := range bufs {
		flat.Write(b)
	}

	got, err := ReadMessage(&flat, 0)
	require.NoError(t, err)
	return got
}

func TestRoundTripCreateFile(t *testing.T) {
	msg := Message{Body: &CreateFileReq{
		ChunkSize:    65536,
		FilePerm:     0o644,
		FileSize:     1048576,
		Partition:    "default",
		RelativePath: "a/b",
		FileName:     "file.bin",
	}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.Body, got.Body)
}

func TestRoundTripCreateFileResp(t *testing.T) {
	msg := Message{Body: &CreateFileResp{FileToken: "abc123"}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.Body, got.Body)
}

func TestRoundTripSendFileReqWithData(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 8192)
	msg := Message{Body: &SendFileReq{
		MaxChainLen: 3,
		OriginSize:  8192,
		Offset:      65536,
		FileToken:   "tok",
	}, Data: data}

	got := roundTrip(t, msg)
	assert.Equal(t, msg.Body, got.Body)
	assert.Equal(t, data, got.Data)
}

func TestRoundTripSetChainReq(t *testing.T) {
	msg := Message{Body: &SetChainReq{
		FileToken: "root-tok",
		Targets: []ChainTarget{
			{Host: "10.0.0.1", Port: 8700, FileToken: "t1"},
			{Host: "10.0.0.2", Port: 8700, FileToken: "t2"},
		},
	}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.Body, got.Body)
}

func TestRoundTripCloseFileReq(t *testing.T) {
	msg := Message{Body: &CloseFileReq{WaitClose: true, FileToken: "tok"}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.Body, got.Body)
}

func TestRoundTripEmptyBodies(t *testing.T) {
	for _, body := range []Body{&SendFileResp{}, &CloseFileResp{}, &DeleteFileResp{}, &SetChainResp{}, &Unknown{}} {
		got := roundTrip(t, Message{Body: body})
		assert.Equal(t, body, got.Body)
	}
}

func TestResponseCarriesError(t *testing.T) {
	msg := Message{Error: EInvalForTest, Body: &CreateFileResp{}}
	got := roundTrip(t, msg)
	assert.Equal(t, EInvalForTest, got.Error)
}

const EInvalForTest int16 = -22

func TestDecoderMessageTooLarge(t *testing.T) {
	msg := Message{Body: &SendFileReq{FileToken: "tok"}, Data: make([]byte, 8192)}
	bufs, err := msg.Encode()
	require.NoError(t, err)

	var flat bytes.Buffer
	for _, b := range bufs {
		flat.Write(b)
	}

	_, err = ReadMessage(&flat, uint32(flat.Len()-1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDecoderExactLimitSucceeds(t *testing.T) {
	msg := Message{Body: &SendFileReq{FileToken: "tok"}, Data: make([]byte, 8192)}
	bufs, err := msg.Encode()
	require.NoError(t, err)

	var flat bytes.Buffer
	for _, b := range bufs {
		flat.Write(b)
	}

	_, err = ReadMessage(&flat, uint32(flat.Len()))
	require.NoError(t, err)
}

func TestDecoderRejectsBadMagic(t *testing.T) {
	h := Header{Magic: 0xdead, Version: ProtocolVersion, Command: CmdUnknown}
	buf := EncodeHeader(h)
	_, err := ReadMessage(bytes.NewReader(buf), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMessage)
}

func TestDecoderRejectsUnknownCommand(t *testing.T) {
	h := Header{Magic: MagicNumber, Version: ProtocolVersion, Command: 0x00FF}
	buf := EncodeHeader(h)
	_, err := ReadMessage(bytes.NewReader(buf), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMessage)
}

func TestReadMessageUnexpectedEOF(t *testing.T) {
	h := Header{Magic: MagicNumber, Version: ProtocolVersion, Command: CmdCloseFileReq, BodyLen: 10}
	buf := EncodeHeader(h)
	_, err := ReadMessage(bytes.NewReader(buf), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAlignedBufferIsChunkBaseAligned(t *testing.T) {
	buf := AlignedBuffer(12345)
	assert.Len(t, buf, 12345)
	assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%ChunkBase)
}

func TestPadToChunkBase(t *testing.T) {
	data := make([]byte, 100)
	padded := PadToChunkBase(data)
	assert.Equal(t, ChunkBase, len(padded))

	data2 := make([]byte, ChunkBase*2)
	padded2 := PadToChunkBase(data2)
	assert.Equal(t, len(data2), len(padded2))
}
