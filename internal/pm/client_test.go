package pm

import (
	"context"
	"runtime"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/Conless/remire/internal/msgport"
	"github.com/stretchr/testify/require"
)

// TestClientRoundTripsAgainstConcurrentService runs the PM client's
// synchronous request/reply calls on one goroutine against a fake PM
// service loop on another, coordinated with errgroup the way a kernel
// boot's CPU ticker and scheduler loop run concurrently in cmd/kernel.
// The client issues Fork and then WaitPID, so one request is
// outstanding at a time.
func TestClientRoundTripsAgainstConcurrentService(t *testing.T) {
	toPM := msgport.NewQueue[Kernel2PM](8)
	toKernel := msgport.NewQueue[PM2Kernel](8)
	kernelSide := msgport.NewPort[PM2Kernel, Kernel2PM](toPM, toKernel, true, nil)
	pmSide := msgport.NewPort[Kernel2PM, PM2Kernel](toKernel, toPM, false, nil)

	client := NewClient(kernelSide)

	group, _ := errgroup.WithContext(context.Background())
	group.Go(func() error {
		serveOne(pmSide)
		serveOne(pmSide)
		return nil
	})

	var childPID int
	var waitResult int
	var exitCode int32
	group.Go(func() error {
		childPID = client.Fork(1, 0xf00d)
		waitResult, exitCode = client.WaitPID(1, childPID)
		return nil
	})

	require.NoError(t, group.Wait())

	require.Equal(t, 2, childPID)
	require.Equal(t, 2, waitResult)
	require.Equal(t, int32(7), exitCode)
}

// serveOne answers exactly one pending request on the PM side, spinning
// until one arrives.
func serveOne(pmSide *msgport.Port[Kernel2PM, PM2Kernel]) {
	var id int64
	var req Kernel2PM
	for {
		if gotID, msg, ok := pmSide.Resolve(); ok {
			id, req = gotID, msg
			break
		}
		runtime.Gosched()
	}
	switch req.Tag {
	case TagFork:
		pmSide.Reply(-id, PM2Kernel{Tag: TagForkReply, ChildPID: 2})
	case TagWaitPID:
		pmSide.Reply(-id, PM2Kernel{Tag: TagWaitPIDReply, Result: 2, ExitCode: 7})
	}
}
