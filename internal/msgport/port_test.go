package msgport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPopFIFO(t *testing.T) {
	q := NewQueue[string](2)
	require.True(t, q.Push(Wrapper[string]{Msg: "a", ID: 1}))
	require.True(t, q.Push(Wrapper[string]{Msg: "b", ID: 2}))
	require.False(t, q.Push(Wrapper[string]{Msg: "c", ID: 3}), "queue of capacity 2 should reject a third push")

	w, ok := q.PopID(0)
	require.True(t, ok)
	require.Equal(t, "a", w.Msg)

	w, ok = q.PopID(0)
	require.True(t, ok)
	require.Equal(t, "b", w.Msg)

	require.True(t, q.Empty())
}

func TestQueuePopIDMismatchLeavesMessage(t *testing.T) {
	q := NewQueue[int](2)
	q.Push(Wrapper[int]{Msg: 10, ID: 5})

	_, ok := q.PopID(6)
	require.False(t, ok)
	require.Equal(t, int64(5), q.PeekID(), "mismatched id must not consume the head")
}

// Two ports sharing a queue pair, one initiator, one responder, model
// the kernel<->service round trip: a request assigned a positive id is
// answered with a reply carrying that same id back negated.
func TestPortRoundTrip(t *testing.T) {
	toService := NewQueue[string](4)
	toKernel := NewQueue[string](4)

	kernel := NewPort[string, string](toService, toKernel, true, nil)
	service := NewPort[string, string](toKernel, toService, false, nil)

	id := kernel.Send("ping")
	require.Equal(t, int64(1), id)

	gotID, msg := service.SpinRecv(0)
	require.Equal(t, id, gotID)
	require.Equal(t, "ping", msg)

	service.Reply(-gotID, "pong")

	replyID, reply, ok := kernel.Resolve()
	require.True(t, ok)
	require.Equal(t, -id, replyID)
	require.Equal(t, "pong", reply)
}

func TestSendBlocksUntilYieldDrainsQueue(t *testing.T) {
	toService := NewQueue[int](1)
	toKernel := NewQueue[int](1)
	kernel := NewPort[int, int](toService, toKernel, true, nil)

	kernel.Send(1)

	yielded := false
	kernel.Yield = func() {
		if !yielded {
			yielded = true
			_, ok := toService.PopID(0)
			require.True(t, ok)
		}
	}
	kernel.Send(2)
	require.True(t, yielded, "Send must yield while the queue is full")
}
