package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// RemoteTarget addresses one destination node.
type RemoteTarget struct {
	Host string
	Port uint16
}

// ChainTarget is a forwarding edge: a destination plus the token that peer
// minted for this transfer.
type ChainTarget struct {
	Host      string
	Port      uint16
	FileToken string
}

// Body is implemented by every per-command message value. Decoding a frame
// yields the concrete Body for its command rather than a base type with
// dynamic downcasts.
type Body interface {
	Command() Command
	Marshal() ([]byte, error)
}

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("wire: truncated string length: %w", ErrBadMessage)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("wire: truncated string body: %w", ErrBadMessage)
	}
	return string(buf), nil
}

func finished(r *bytes.Reader) error {
	if r.Len() != 0 {
		return fmt.Errorf("wire: trailing bytes in body: %w", ErrBadMessage)
	}
	return nil
}

// Unknown is the empty-body reply for unrecognised commands.
type Unknown struct{}

func (Unknown) Command() Command            { return CmdUnknown }
func (Unknown) Marshal() ([]byte, error)    { return nil, nil }
func decodeUnknown(buf []byte) (*Unknown, error) {
	if len(buf) != 0 {
		return nil, fmt.Errorf("wire: UNKNOWN carries a body: %w", ErrBadMessage)
	}
	return &Unknown{}, nil
}

// CreateFileReq opens a new upload on a node.
type CreateFileReq struct {
	ChunkSize    uint32
	FilePerm     uint32
	FileSize     uint64
	Partition    string
	RelativePath string
	FileName     string
}

func (*CreateFileReq) Command() Command { return CmdCreateFileReq }

func (m *CreateFileReq) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.ChunkSize)
	binary.Write(&buf, binary.BigEndian, m.FilePerm)
	binary.Write(&buf, binary.BigEndian, m.FileSize)
	putString(&buf, m.Partition)
	putString(&buf, m.RelativePath)
	putString(&buf, m.FileName)
	return buf.Bytes(), nil
}

func decodeCreateFileReq(buf []byte) (*CreateFileReq, error) {
	r := bytes.NewReader(buf)
	m := &CreateFileReq{}
	if err := binary.Read(r, binary.BigEndian, &m.ChunkSize); err != nil {
		return nil, fmt.Errorf("wire: %w", ErrBadMessage)
	}
	if err := binary.Read(r, binary.BigEndian, &m.FilePerm); err != nil {
		return nil, fmt.Errorf("wire: %w", ErrBadMessage)
	}
	if err := binary.Read(r, binary.BigEndian, &m.FileSize); err != nil {
		return nil, fmt.Errorf("wire: %w", ErrBadMessage)
	}
	var err error
	if m.Partition, err = getString(r); err != nil {
		return nil, err
	}
	if m.RelativePath, err = getString(r); err != nil {
		return nil, err
	}
	if m.FileName, err = getString(r); err != nil {
		return nil, err
	}
	if err := finished(r); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateFileResp carries the token minted for this upload.
type CreateFileResp struct {
	FileToken string
}

func (*CreateFileResp) Command() Command { return CmdCreateFileResp }

func (m *CreateFileResp) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	putString(&buf, m.FileToken)
	return buf.Bytes(), nil
}

func decodeCreateFileResp(buf []byte) (*CreateFileResp, error) {
	r := bytes.NewReader(buf)
	m := &CreateFileResp{}
	var err error
	if m.FileToken, err = getString(r); err != nil {
		return nil, err
	}
	if err := finished(r); err != nil {
		return nil, err
	}
	return m, nil
}

// SendFileReq carries one chunk, out of band, in the enclosing Message's
// Data field.
type SendFileReq struct {
	MaxChainLen  uint16
	CompressType uint16
	OriginSize   uint32
	Crc32        uint32
	Offset       uint64
	FileToken    string
}

func (*SendFileReq) Command() Command { return CmdSendFileReq }

func (m *SendFileReq) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.MaxChainLen)
	binary.Write(&buf, binary.BigEndian, m.CompressType)
	binary.Write(&buf, binary.BigEndian, m.OriginSize)
	binary.Write(&buf, binary.BigEndian, m.Crc32)
	binary.Write(&buf, binary.BigEndian, m.Offset)
	putString(&buf, m.FileToken)
	return buf.Bytes(), nil
}

func decodeSendFileReq(buf []byte) (*SendFileReq, error) {
	r := bytes.NewReader(buf)
	m := &SendFileReq{}
	for _, dst := range []interface{}{&m.MaxChainLen, &m.CompressType, &m.OriginSize, &m.Crc32, &m.Offset} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, fmt.Errorf("wire: %w", ErrBadMessage)
		}
	}
	var err error
	if m.FileToken, err = getString(r); err != nil {
		return nil, err
	}
	if err := finished(r); err != nil {
		return nil, err
	}
	return m, nil
}

// SendFileResp carries no body; the result lives in the header's Error field.
type SendFileResp struct{}

func (*SendFileResp) Command() Command         { return CmdSendFileResp }
func (*SendFileResp) Marshal() ([]byte, error) { return nil, nil }
func decodeSendFileResp(buf []byte) (*SendFileResp, error) {
	if len(buf) != 0 {
		return nil, fmt.Errorf("wire: SEND_FILE_RESP carries a body: %w", ErrBadMessage)
	}
	return &SendFileResp{}, nil
}

// CloseFileReq finalises one upload.
type CloseFileReq struct {
	WaitClose bool
	FileToken string
}

func (*CloseFileReq) Command() Command { return CmdCloseFileReq }

func (m *CloseFileReq) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	var wait byte
	if m.WaitClose {
		wait = 1
	}
	buf.WriteByte(wait)
	putString(&buf, m.FileToken)
	return buf.Bytes(), nil
}

func decodeCloseFileReq(buf []byte) (*CloseFileReq, error) {
	r := bytes.NewReader(buf)
	m := &CloseFileReq{}
	wait, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: %w", ErrBadMessage)
	}
	m.WaitClose = wait != 0
	if m.FileToken, err = getString(r); err != nil {
		return nil, err
	}
	if err := finished(r); err != nil {
		return nil, err
	}
	return m, nil
}

// CloseFileResp carries no body.
type CloseFileResp struct{}

func (*CloseFileResp) Command() Command         { return CmdCloseFileResp }
func (*CloseFileResp) Marshal() ([]byte, error) { return nil, nil }
func decodeCloseFileResp(buf []byte) (*CloseFileResp, error) {
	if len(buf) != 0 {
		return nil, fmt.Errorf("wire: CLOSE_FILE_RESP carries a body: %w", ErrBadMessage)
	}
	return &CloseFileResp{}, nil
}

// DeleteFileReq is defined but its handler may be a stub.
type DeleteFileReq struct {
	FileToken string
}

func (*DeleteFileReq) Command() Command { return CmdDeleteFileReq }

func (m *DeleteFileReq) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	putString(&buf, m.FileToken)
	return buf.Bytes(), nil
}

func decodeDeleteFileReq(buf []byte) (*DeleteFileReq, error) {
	r := bytes.NewReader(buf)
	m := &DeleteFileReq{}
	var err error
	if m.FileToken, err = getString(r); err != nil {
		return nil, err
	}
	if err := finished(r); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteFileResp carries no body.
type DeleteFileResp struct{}

func (*DeleteFileResp) Command() Command         { return CmdDeleteFileResp }
func (*DeleteFileResp) Marshal() ([]byte, error) { return nil, nil }
func decodeDeleteFileResp(buf []byte) (*DeleteFileResp, error) {
	if len(buf) != 0 {
		return nil, fmt.Errorf("wire: DELETE_FILE_RESP carries a body: %w", ErrBadMessage)
	}
	return &DeleteFileResp{}, nil
}

// SetChainReq installs the forwarding edges for a token already open at
// this node.
type SetChainReq struct {
	FileToken string
	Targets   []ChainTarget
}

func (*SetChainReq) Command() Command { return CmdSetChainReq }

func (m *SetChainReq) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	putString(&buf, m.FileToken)
	binary.Write(&buf, binary.BigEndian, uint32(len(m.Targets)))
	for _, t := range m.Targets {
		putString(&buf, t.Host)
		binary.Write(&buf, binary.BigEndian, t.Port)
		putString(&buf, t.FileToken)
	}
	return buf.Bytes(), nil
}

func decodeSetChainReq(buf []byte) (*SetChainReq, error) {
	r := bytes.NewReader(buf)
	m := &SetChainReq{}
	var err error
	if m.FileToken, err = getString(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("wire: %w", ErrBadMessage)
	}
	m.Targets = make([]ChainTarget, count)
	for i := range m.Targets {
		if m.Targets[i].Host, err = getString(r); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &m.Targets[i].Port); err != nil {
			return nil, fmt.Errorf("wire: %w", ErrBadMessage)
		}
		if m.Targets[i].FileToken, err = getString(r); err != nil {
			return nil, err
		}
	}
	if err := finished(r); err != nil {
		return nil, err
	}
	return m, nil
}

// SetChainResp carries no body.
type SetChainResp struct{}

func (*SetChainResp) Command() Command         { return CmdSetChainResp }
func (*SetChainResp) Marshal() ([]byte, error) { return nil, nil }
func decodeSetChainResp(buf []byte) (*SetChainResp, error) {
	if len(buf) != 0 {
		return nil, fmt.Errorf("wire: SET_CHAIN_RESP carries a body: %w", ErrBadMessage)
	}
	return &SetChainResp{}, nil
}

// unmarshalBody decodes buf into the concrete Body for cmd.
func unmarshalBody(cmd Command, buf []byte) (Body, error) {
	switch cmd {
	case CmdUnknown:
		return decodeUnknown(buf)
	case CmdCreateFileReq:
		return decodeCreateFileReq(buf)
	case CmdCreateFileResp:
		return decodeCreateFileResp(buf)
	case CmdSendFileReq:
		return decodeSendFileReq(buf)
	case CmdSendFileResp:
		return decodeSendFileResp(buf)
	case CmdCloseFileReq:
		return decodeCloseFileReq(buf)
	case CmdCloseFileResp:
		return decodeCloseFileResp(buf)
	case CmdDeleteFileReq:
		return decodeDeleteFileReq(buf)
	case CmdDeleteFileResp:
		return decodeDeleteFileResp(buf)
	case CmdSetChainReq:
		return decodeSetChainReq(buf)
	case CmdSetChainResp:
		return decodeSetChainResp(buf)
	default:
		return nil, fmt.Errorf("wire: unrecognised command %s: %w", cmd, ErrBadMessage)
	}
}
