package p2pnode

import (
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/pkg/errors"
)

// fileExchangeProtocol is the single protocol identifier this node speaks,
// full-duplex (it both sends requests and serves them). Spec.md §6.
const fileExchangeProtocol = "/file-exchange/1"

// agentVersion is advertised over the Identify protocol. Spec.md §6.
const agentVersion = "disca/v1"

// maxMessageSize bounds a single CBOR-encoded frame. Blobs are opaque and
// unbounded in principle (spec.md Non-goals: no streaming of partial
// blobs), but an unbounded length prefix read off the wire from an
// unauthenticated peer is an easy memory-exhaustion vector, so a generous
// ceiling is enforced defensively.
const maxMessageSize = 256 << 20

// fileRequest is the CBOR-encoded request message, spec.md §6.
type fileRequest struct {
	Path string `cbor:"path"`
}

// fileResponse is the CBOR-encoded response message, spec.md §6. A nil
// Content is the wire encoding of "absent".
type fileResponse struct {
	Content []byte `cbor:"content"`
}

// go-libp2p has no built-in request/response behaviour analogous to
// rust-libp2p's request_response::cbor::Behaviour, so one is hand-rolled
// here: a uint32 big-endian length prefix followed by a CBOR-encoded
// payload, written and read once per stream (one request, one response,
// then the stream is closed by the caller).

func writeFrame(w io.Writer, payload any) error {
	data, err := cbor.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "p2pnode: encoding frame")
	}
	if len(data) > maxMessageSize {
		return errors.Errorf("p2pnode: frame too large (%d bytes)", len(data))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "p2pnode: writing frame length")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "p2pnode: writing frame body")
	}
	return nil
}

func readFrame(r io.Reader, out any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return errors.Wrap(err, "p2pnode: reading frame length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxMessageSize {
		return errors.Errorf("p2pnode: peer announced oversized frame (%d bytes)", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return errors.Wrap(err, "p2pnode: reading frame body")
	}
	if err := cbor.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "p2pnode: decoding frame")
	}
	return nil
}

func sendFileRequest(s network.Stream, req fileRequest) (fileResponse, error) {
	defer s.Close()
	if err := writeFrame(s, req); err != nil {
		return fileResponse{}, err
	}
	var resp fileResponse
	if err := readFrame(s, &resp); err != nil {
		return fileResponse{}, err
	}
	return resp, nil
}

func receiveFileRequest(s network.Stream) (fileRequest, error) {
	var req fileRequest
	if err := readFrame(s, &req); err != nil {
		return fileRequest{}, err
	}
	return req, nil
}

func sendFileResponse(s network.Stream, resp fileResponse) error {
	defer s.Close()
	return writeFrame(s, resp)
}
