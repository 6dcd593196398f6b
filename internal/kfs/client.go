package kfs

import (
	"fmt"

	"github.com/Conless/remire/internal/msgport"
)

// Client is the kernel side of the Kernel2FS/FS2Kernel port, opened
// once at boot against the filesystem service's message pages, the
// same way internal/pm.Client wraps the process manager's port.
type Client struct {
	port *msgport.Port[FS2Kernel, Kernel2FS]
}

// NewClient wraps an already-constructed port as an FS client.
func NewClient(port *msgport.Port[FS2Kernel, Kernel2FS]) *Client {
	return &Client{port: port}
}

func (c *Client) sendAndWait(req Kernel2FS) FS2Kernel {
	id := c.port.Send(req)
	_, reply := c.port.SpinRecv(-id)
	return reply
}

// Open asks the filesystem service to open path (passed as a VA/length
// pair into the requesting process's address space) and returns the
// resulting file descriptor, or a negative value on failure.
func (c *Client) Open(pid int, path uint64, pathLen, flags, mode int) int64 {
	reply := c.sendAndWait(Kernel2FS{Tag: TagOpen, PID: pid, Path: path, PathLen: pathLen, Flags: flags, Mode: mode})
	if reply.Tag != TagOpenReply {
		panic(fmt.Sprintf("kfs: open failed, got reply tag %d", reply.Tag))
	}
	return reply.Result
}

// Read asks the filesystem service to read up to bufLen bytes from fd
// into buf (a VA in the requesting process's address space), returning
// the number of bytes actually read.
func (c *Client) Read(pid, fd int, buf uint64, bufLen int) int64 {
	reply := c.sendAndWait(Kernel2FS{Tag: TagRead, PID: pid, FD: fd, Buf: buf, BufLen: bufLen})
	if reply.Tag != TagReadReply {
		panic(fmt.Sprintf("kfs: read failed, got reply tag %d", reply.Tag))
	}
	return reply.Result
}

// Write asks the filesystem service to write bufLen bytes from buf to
// fd, returning the number of bytes actually written.
func (c *Client) Write(pid, fd int, buf uint64, bufLen int) int64 {
	reply := c.sendAndWait(Kernel2FS{Tag: TagWrite, PID: pid, FD: fd, Buf: buf, BufLen: bufLen})
	if reply.Tag != TagWriteReply {
		panic(fmt.Sprintf("kfs: write failed, got reply tag %d", reply.Tag))
	}
	return reply.Result
}

// Close notifies the filesystem service that fd is no longer needed.
func (c *Client) Close(pid, fd int) int64 {
	reply := c.sendAndWait(Kernel2FS{Tag: TagClose, PID: pid, FD: fd})
	if reply.Tag != TagCloseReply {
		panic(fmt.Sprintf("kfs: close failed, got reply tag %d", reply.Tag))
	}
	return reply.Result
}

// NotifyExit is a one-way notification that pid has exited, so the
// filesystem service can close any file descriptors it still holds
// open on pid's behalf.
func (c *Client) NotifyExit(pid int) {
	c.port.Send(Kernel2FS{Tag: TagExit, PID: pid})
}

// NotifyFork is a one-way notification that childPID was cloned from
// pid, so the filesystem service can duplicate pid's open descriptor
// table for the child.
func (c *Client) NotifyFork(pid, childPID int) {
	c.port.Send(Kernel2FS{Tag: TagFork, PID: pid, ChildPID: childPID})
}
