// Package rpcserver exposes a Session over JSON-RPC, the same shape as
// dastard's RunRPCServer (rpc_server.go): a registered service object
// served with net/rpc/jsonrpc over one TCP listener, accepting a
// connection per client and serving each on its own goroutine.
package rpcserver

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
	"github.com/nist-peakdrv/peakdrv/internal/config"
	"github.com/nist-peakdrv/peakdrv/internal/frame"
)

// SessionController is the subset of *peakdrv.Session the RPC service
// needs; peakdrv.Session satisfies it. Taking an interface here (rather
// than importing the root package directly) avoids an import cycle
// between the root package's cmd wiring and this package.
type SessionController interface {
	Configure(path string) error
	Reset() (codec.ResetInfo, error)
	SendMPSConfiguration() error
	AcquireOnce() error
	LatestFrame() (frame.Frame, error)
	StartAsync(onFrameReady frame.ReadyFunc) error
	StopAsync() error
	SetGeometry(g config.Geometry)
}

// Control is the RPC-registered service object.
type Control struct {
	session SessionController
	log     *log.Logger
}

// ResetReply mirrors codec.ResetInfo for RPC clients that would rather
// not import the codec package directly.
type ResetReply struct {
	Success          bool
	SystemType       string
	ActualFormatCode int
	DefaultRateMHz   int
	ActualRateMHz    int
}

// Reset runs Session.Reset and reports the instrument's response.
func (c *Control) Reset(_ *struct{}, reply *ResetReply) error {
	info, err := c.session.Reset()
	if err != nil {
		return err
	}
	*reply = ResetReply{
		Success:          info.Success,
		SystemType:       info.SystemType.String(),
		ActualFormatCode: info.ActualFormatCode,
		DefaultRateMHz:   info.DefaultRateMHz,
		ActualRateMHz:    info.ActualRateMHz,
	}
	return nil
}

// LoadMPS runs Session.Configure against the given path and then
// Session.SendMPSConfiguration, so a single RPC call takes a client all
// the way from a file path to an engine ready to acquire.
func (c *Control) LoadMPS(path *string, reply *bool) error {
	if err := c.session.Configure(*path); err != nil {
		return err
	}
	if err := c.session.SendMPSConfiguration(); err != nil {
		return err
	}
	*reply = true
	return nil
}

// AcquireOnce runs one synchronous acquisition.
func (c *Control) AcquireOnce(_ *struct{}, reply *bool) error {
	if err := c.session.AcquireOnce(); err != nil {
		return err
	}
	*reply = true
	return nil
}

// StartAsync begins continuous acquisition; the RPC caller receives no
// per-frame callback (that is an in-process API only), only the
// call's success or failure.
func (c *Control) StartAsync(_ *struct{}, reply *bool) error {
	if err := c.session.StartAsync(nil); err != nil {
		return err
	}
	*reply = true
	return nil
}

// StopAsync halts continuous acquisition.
func (c *Control) StopAsync(_ *struct{}, reply *bool) error {
	if err := c.session.StopAsync(); err != nil {
		return err
	}
	*reply = true
	return nil
}

// SetGeometry updates the session's physical-configuration metadata.
func (c *Control) SetGeometry(g *config.Geometry, reply *bool) error {
	c.session.SetGeometry(*g)
	*reply = true
	return nil
}

// Run registers a Control wrapping session and serves JSON-RPC
// connections on port until the listener fails, mirroring dastard's
// accept-and-dispatch loop.
func Run(session SessionController, port int, logger *log.Logger) error {
	control := &Control{session: session, log: logger}

	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return fmt.Errorf("rpcserver: register: %w", err)
	}

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpcserver: listen %s: %w", addr, err)
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("rpcserver: accept: %w", err)
		}
		logger.Printf("rpcserver: new connection from %s", conn.RemoteAddr())
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
