package pm

import (
	"fmt"

	"github.com/Conless/remire/internal/msgport"
)

// Client is the kernel side of the Kernel2PM/PM2Kernel port, opened
// once at boot against the PM service's message pages.
type Client struct {
	port *msgport.Port[PM2Kernel, Kernel2PM]
}

// NewClient wraps an already-constructed port as a PM client.
func NewClient(port *msgport.Port[PM2Kernel, Kernel2PM]) *Client {
	return &Client{port: port}
}

func (c *Client) sendAndWait(req Kernel2PM) PM2Kernel {
	id := c.port.Send(req)
	_, reply := c.port.SpinRecv(-id)
	return reply
}

// Init registers the init process's (PID 1) page table token with the
// PM.
func (c *Client) Init(token uint64) {
	c.port.Send(Kernel2PM{Tag: TagInit, Token: token})
}

// Fork asks the PM to register a freshly cloned process and returns the
// child's PID once the PM replies.
func (c *Client) Fork(pid int, token uint64) int {
	reply := c.sendAndWait(Kernel2PM{Tag: TagFork, PID: pid, Token: token})
	if reply.Tag != TagForkReply {
		panic(fmt.Sprintf("pm: fork failed, got reply tag %d", reply.Tag))
	}
	return reply.ChildPID
}

// Exec notifies the PM that pid has replaced its address space, so
// future WaitPID/Exit bookkeeping uses the new page table token.
func (c *Client) Exec(pid int, newToken uint64) {
	c.port.Send(Kernel2PM{Tag: TagExec, PID: pid, Token: newToken})
}

// WaitPID asks the PM to wait for childPID (-1 for any child) to exit,
// returning the reaped child's pid and exit code.
func (c *Client) WaitPID(pid, childPID int) (result int, exitCode int32) {
	reply := c.sendAndWait(Kernel2PM{Tag: TagWaitPID, PID: pid, ChildPID: childPID})
	if reply.Tag != TagWaitPIDReply {
		panic(fmt.Sprintf("pm: waitpid failed, got reply tag %d", reply.Tag))
	}
	return reply.Result, reply.ExitCode
}

// Exit notifies the PM that pid has exited with exitCode. This is a
// one-way notification; the PM answers asynchronously via Remove once
// the zombie has been reaped.
func (c *Client) Exit(pid int, exitCode int32) {
	c.port.Send(Kernel2PM{Tag: TagExit, PID: pid, ExitCode: exitCode})
}

// PollRemove drains any unsolicited Remove notifications the PM has
// queued (a reaped zombie's address space and PID may now be dropped),
// returning ok=false once none remain. This is PM→kernel and
// fire-and-forget: the PM never waits for a reply, so the kernel only
// ever needs to poll for it; cmd/kernel polls once per timer tick.
func (c *Client) PollRemove() (token uint64, ok bool) {
	_, msg, got := c.port.Resolve()
	if !got || msg.Tag != TagRemove {
		return 0, false
	}
	return msg.Token, true
}
