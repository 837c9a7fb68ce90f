// Package wire implements the fcopy framed binary protocol: a 16-byte
// big-endian header, a command-specific body, and an optional out-of-band
// data section carrying chunk payloads aligned for direct I/O.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ChunkBase is the alignment and minimum granularity for chunk payloads,
// required so the server can pwrite with O_DIRECT.
const ChunkBase = 8192

const (
	MagicNumber     uint16 = 0xF1FA
	ProtocolVersion uint16 = 1
	HeaderSize             = 16
)

// Command is the u16 wire command tag.
type Command uint16

const (
	CmdUnknown       Command = 0x0000
	CmdCreateFileReq Command = 0x0001
	CmdSendFileReq   Command = 0x0002
	CmdCloseFileReq  Command = 0x0003
	CmdDeleteFileReq Command = 0x0004

	CmdSetChainReq Command = 0x0011

	RespBit Command = 0x1000

	CmdCreateFileResp = CmdCreateFileReq | RespBit
	CmdSendFileResp   = CmdSendFileReq | RespBit
	CmdCloseFileResp  = CmdCloseFileReq | RespBit
	CmdDeleteFileResp = CmdDeleteFileReq | RespBit
	CmdSetChainResp   = CmdSetChainReq | RespBit
)

func (c Command) String() string {
	switch c {
	case CmdUnknown:
		return "UNKNOWN"
	case CmdCreateFileReq:
		return "CREATE_FILE_REQ"
	case CmdSendFileReq:
		return "SEND_FILE_REQ"
	case CmdCloseFileReq:
		return "CLOSE_FILE_REQ"
	case CmdDeleteFileReq:
		return "DELETE_FILE_REQ"
	case CmdSetChainReq:
		return "SET_CHAIN_REQ"
	case CmdCreateFileResp:
		return "CREATE_FILE_RESP"
	case CmdSendFileResp:
		return "SEND_FILE_RESP"
	case CmdCloseFileResp:
		return "CLOSE_FILE_RESP"
	case CmdDeleteFileResp:
		return "DELETE_FILE_RESP"
	case CmdSetChainResp:
		return "SET_CHAIN_RESP"
	default:
		return fmt.Sprintf("Command(%#04x)", uint16(c))
	}
}

// ErrBadMessage signals a structurally invalid header or body (EBADMSG).
var ErrBadMessage = errors.New("wire: malformed message")

// ErrMessageTooLarge signals a frame exceeding the configured size cap (EMSGSIZE).
var ErrMessageTooLarge = errors.New("wire: message exceeds size limit")

// Header is the 16-byte frame header, always big-endian on the wire.
type Header struct {
	Magic   uint16
	Version uint16
	Command Command
	Error   int16
	BodyLen uint32
	DataLen uint32
}

// EncodeHeader serialises h into a freshly allocated HeaderSize-byte slice.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Version)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Command))
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Error))
	binary.BigEndian.PutUint32(buf[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.DataLen)
	return buf
}

// DecodeHeader parses exactly HeaderSize bytes of buf into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header: %w", ErrBadMessage)
	}
	h := Header{
		Magic:   binary.BigEndian.Uint16(buf[0:2]),
		Version: binary.BigEndian.Uint16(buf[2:4]),
		Command: Command(binary.BigEndian.Uint16(buf[4:6])),
		Error:   int16(binary.BigEndian.Uint16(buf[6:8])),
		BodyLen: binary.BigEndian.Uint32(buf[8:12]),
		DataLen: binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != MagicNumber {
		return Header{}, fmt.Errorf("wire: bad magic %#04x: %w", h.Magic, ErrBadMessage)
	}
	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("wire: unsupported version %d: %w", h.Version, ErrBadMessage)
	}
	return h, nil
}
