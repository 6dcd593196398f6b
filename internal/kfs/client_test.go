package kfs

import (
	"sync"
	"testing"

	"github.com/Conless/remire/internal/msgport"
	"github.com/stretchr/testify/require"
)

func newLoopbackClient() (*Client, *msgport.Port[Kernel2FS, FS2Kernel]) {
	toFS := msgport.NewQueue[Kernel2FS](8)
	toKernel := msgport.NewQueue[FS2Kernel](8)
	kernelSide := msgport.NewPort[FS2Kernel, Kernel2FS](toFS, toKernel, true, nil)
	fsSide := msgport.NewPort[Kernel2FS, FS2Kernel](toKernel, toFS, false, nil)
	return NewClient(kernelSide), fsSide
}

// serveOne answers exactly one pending request on the service side with
// reply, spinning until the request arrives.
func serveOne(fsSide *msgport.Port[Kernel2FS, FS2Kernel], reply func(Kernel2FS) FS2Kernel) {
	for {
		if id, req, ok := fsSide.Resolve(); ok {
			fsSide.Reply(-id, reply(req))
			return
		}
	}
}

func TestOpenReadWriteCloseRoundTrip(t *testing.T) {
	client, fsSide := newLoopbackClient()
	var wg sync.WaitGroup

	wg.Add(1)
	var fd int64
	go func() {
		defer wg.Done()
		fd = client.Open(1, 0x1000, 16, 0, 0)
	}()
	serveOne(fsSide, func(req Kernel2FS) FS2Kernel {
		require.Equal(t, TagOpen, req.Tag)
		require.Equal(t, 1, req.PID)
		return FS2Kernel{Tag: TagOpenReply, Result: 3}
	})
	wg.Wait()
	require.EqualValues(t, 3, fd)

	wg.Add(1)
	var n int64
	go func() {
		defer wg.Done()
		n = client.Read(1, int(fd), 0x2000, 64)
	}()
	serveOne(fsSide, func(req Kernel2FS) FS2Kernel {
		require.Equal(t, TagRead, req.Tag)
		require.EqualValues(t, fd, req.FD)
		return FS2Kernel{Tag: TagReadReply, Result: 12}
	})
	wg.Wait()
	require.EqualValues(t, 12, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		n = client.Write(1, int(fd), 0x2000, 12)
	}()
	serveOne(fsSide, func(req Kernel2FS) FS2Kernel {
		require.Equal(t, TagWrite, req.Tag)
		return FS2Kernel{Tag: TagWriteReply, Result: 12}
	})
	wg.Wait()
	require.EqualValues(t, 12, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		n = client.Close(1, int(fd))
	}()
	serveOne(fsSide, func(req Kernel2FS) FS2Kernel {
		require.Equal(t, TagClose, req.Tag)
		return FS2Kernel{Tag: TagCloseReply, Result: 0}
	})
	wg.Wait()
	require.EqualValues(t, 0, n)
}

func TestNotifyExitAndForkAreOneWay(t *testing.T) {
	client, fsSide := newLoopbackClient()

	client.NotifyFork(1, 2)
	_, req, ok := fsSide.Resolve()
	require.True(t, ok)
	require.Equal(t, TagFork, req.Tag)
	require.Equal(t, 2, req.ChildPID)

	client.NotifyExit(2)
	_, req, ok = fsSide.Resolve()
	require.True(t, ok)
	require.Equal(t, TagExit, req.Tag)
	require.Equal(t, 2, req.PID)
}
