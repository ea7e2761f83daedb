package transport

import (
	"context"
	"net"
)

// LinkServer accepts links from devices. Implemented by Server.
type LinkServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	LinkCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

var (
	_ LinkServer      = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
