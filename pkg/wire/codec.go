package wire

import (
	"fmt"
	"io"
	"net"
)

// DefaultSizeLimit is applied when a transport does not configure its own
// cap; it matches the server config's "request-size-limit" default.
const DefaultSizeLimit = 128 << 20

// Message is one framed request or response: an optional Body plus an
// optional out-of-band Data payload.
type Message struct {
	Error int16
	Body  Body
	Data  []byte
}

// Encode renders m as a vectored write: header+body in one slice, the data
// payload as a second, zero-copy slice.
func (m Message) Encode() (net.Buffers, error) {
	cmd := CmdUnknown
	var bodyBytes []byte
	if m.Body != nil {
		cmd = m.Body.Command()
		var err error
		bodyBytes, err = m.Body.Marshal()
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s body: %w", cmd, err)
		}
	}

	h := Header{
		Magic:   MagicNumber,
		Version: ProtocolVersion,
		Command: cmd,
		Error:   m.Error,
		BodyLen: uint32(len(bodyBytes)),
		DataLen: uint32(len(m.Data)),
	}

	head := EncodeHeader(h)
	framed := make([]byte, 0, len(head)+len(bodyBytes))
	framed = append(framed, head...)
	framed = append(framed, bodyBytes...)

	if len(m.Data) == 0 {
		return net.Buffers{framed}, nil
	}
	return net.Buffers{framed, m.Data}, nil
}

type parseState int

const (
	stateHeader parseState = iota
	stateBody
	stateData
	stateDone
)

// Decoder implements the incremental "append bytes as they arrive, report
// NeedMore/Done/Fail" parsing contract: repeated calls to Append feed it
// bytes read off a connection in whatever chunks the transport delivers
// them in.
type Decoder struct {
	limit uint32
	state parseState

	hdrBuf  [HeaderSize]byte
	hdrFill int
	header  Header

	body     []byte
	bodyFill int

	data     []byte
	dataFill int
}

// NewDecoder creates a Decoder enforcing the given frame size cap
// (16 + body_len + data_len <= limit). A limit of 0 uses DefaultSizeLimit.
func NewDecoder(limit uint32) *Decoder {
	if limit == 0 {
		limit = DefaultSizeLimit
	}
	return &Decoder{limit: limit}
}

// Reset prepares the decoder to parse the next message.
func (d *Decoder) Reset() {
	d.state = stateHeader
	d.hdrFill = 0
	d.header = Header{}
	d.body = nil
	d.bodyFill = 0
	d.data = nil
	d.dataFill = 0
}

// Append consumes a prefix of buf, returning how many bytes were consumed
// and whether the message is now fully parsed. Once done is true, call
// Message to retrieve the result, then Reset before parsing the next one.
func (d *Decoder) Append(buf []byte) (consumed int, done bool, err error) {
	for len(buf) > 0 && d.state != stateDone {
		switch d.state {
		case stateHeader:
			n := copy(d.hdrBuf[d.hdrFill:], buf)
			d.hdrFill += n
			consumed += n
			buf = buf[n:]

			if d.hdrFill < HeaderSize {
				continue
			}

			h, err := DecodeHeader(d.hdrBuf[:])
			if err != nil {
				return consumed, false, err
			}
			if !isKnownCommand(h.Command) {
				return consumed, false, fmt.Errorf("wire: unrecognised command %s: %w", h.Command, ErrBadMessage)
			}
			if uint64(HeaderSize)+uint64(h.BodyLen)+uint64(h.DataLen) > uint64(d.limit) {
				return consumed, false, fmt.Errorf("wire: frame of %d bytes exceeds limit %d: %w",
					uint64(HeaderSize)+uint64(h.BodyLen)+uint64(h.DataLen), d.limit, ErrMessageTooLarge)
			}

			d.header = h
			d.body = make([]byte, h.BodyLen)
			d.data = AlignedBuffer(int(h.DataLen))
			if h.BodyLen == 0 {
				if h.DataLen == 0 {
					d.state = stateDone
				} else {
					d.state = stateData
				}
			} else {
				d.state = stateBody
			}

		case stateBody:
			n := copy(d.body[d.bodyFill:], buf)
			d.bodyFill += n
			consumed += n
			buf = buf[n:]
			if d.bodyFill == len(d.body) {
				if d.header.DataLen == 0 {
					d.state = stateDone
				} else {
					d.state = stateData
				}
			}

		case stateData:
			n := copy(d.data[d.dataFill:], buf)
			d.dataFill += n
			consumed += n
			buf = buf[n:]
			if d.dataFill == len(d.data) {
				d.state = stateDone
			}
		}
	}

	return consumed, d.state == stateDone, nil
}

func isKnownCommand(cmd Command) bool {
	switch cmd {
	case CmdUnknown, CmdCreateFileReq, CmdCreateFileResp, CmdSendFileReq, CmdSendFileResp,
		CmdCloseFileReq, CmdCloseFileResp, CmdDeleteFileReq, CmdDeleteFileResp,
		CmdSetChainReq, CmdSetChainResp:
		return true
	default:
		return false
	}
}

// Message finalises body decoding once Append has reported done. It must
// only be called after a true 'done' result.
func (d *Decoder) Message() (Message, error) {
	body, err := unmarshalBody(d.header.Command, d.body)
	if err != nil {
		return Message{}, err
	}
	return Message{Error: d.header.Error, Body: body, Data: d.data}, nil
}

// ReadMessage reads one complete message from r, blocking until it arrives
// or r returns an error. limit bounds the total framed size (0 uses
// DefaultSizeLimit).
func ReadMessage(r io.Reader, limit uint32) (Message, error) {
	dec := NewDecoder(limit)
	buf := make([]byte, 32*1024)

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				consumed, done, err := dec.Append(chunk)
				chunk = chunk[consumed:]
				if err != nil {
					return Message{}, err
				}
				if done {
					return dec.Message()
				}
				if consumed == 0 {
					// Append always makes progress while buf is nonempty and
					// state != stateDone; guard against an infinite loop.
					break
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, rerr
		}
	}
}
