package p2pnode

import "github.com/multiformats/go-multiaddr"

// command is the sum type of everything a Facade can ask the event loop to
// do. Each variant carries a one-shot reply channel, mirroring the Rust
// Command enum in original_source/src/file_sharing.rs.
type command interface {
	isCommand()
}

type cmdAddFile struct {
	path  string
	reply chan result[struct{}]
}

type cmdRemoveFile struct {
	path  string
	reply chan result[struct{}]
}

type cmdGetFile struct {
	path  string
	reply chan result[[]byte]
}

type cmdAddPeer struct {
	addr  multiaddr.Multiaddr
	reply chan result[struct{}]
}

type cmdStartListening struct {
	addr  multiaddr.Multiaddr
	reply chan result[multiaddr.Multiaddr]
}

func (cmdAddFile) isCommand()        {}
func (cmdRemoveFile) isCommand()     {}
func (cmdGetFile) isCommand()        {}
func (cmdAddPeer) isCommand()        {}
func (cmdStartListening) isCommand() {}
