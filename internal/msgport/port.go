package msgport

import "sync/atomic"

// Port pairs a send queue and a receive queue into one async channel.
// The initiator side (Initiator=true) hands out positive ids; the
// responder side hands out negative ids, exactly as MsgPort<I,O,N,M>'s
// const M selects send_id's starting sign in the original. Reply sends
// under whatever id its caller passes; callers answer a request by
// passing its id negated, which is what the waiting side's
// SpinRecv(-id) matches.
type Port[I any, O any] struct {
	sendID    int64
	sendPort  *Queue[O]
	recvPort  *Queue[I]
	Initiator bool

	// Yield is called whenever Send/Reply/SpinRecv would otherwise spin
	// on a full or empty queue, standing in for the original's
	// yield_ callback into the scheduler.
	Yield func()
}

// NewPort constructs a port over an already-allocated pair of queues.
// sendPort carries outgoing O messages; recvPort carries incoming I
// messages. initiator selects which side increments vs. decrements ids.
func NewPort[I any, O any](sendPort *Queue[O], recvPort *Queue[I], initiator bool, yield func()) *Port[I, O] {
	sendPort.Validate()
	recvPort.Validate()
	id := int64(-1)
	if initiator {
		id = 1
	}
	return &Port[I, O]{
		sendID:    id,
		sendPort:  sendPort,
		recvPort:  recvPort,
		Initiator: initiator,
		Yield:     yield,
	}
}

func (p *Port[I, O]) nextSendID() int64 {
	if p.Initiator {
		return atomic.AddInt64(&p.sendID, 1) - 1
	}
	return atomic.AddInt64(&p.sendID, -1) + 1
}

// Send enqueues msg as a new request and returns the id it was assigned,
// blocking (via Yield) while the send queue is full.
func (p *Port[I, O]) Send(msg O) int64 {
	id := p.nextSendID()
	wrapped := Wrapper[O]{Msg: msg, ID: id}
	for !p.sendPort.Push(wrapped) {
		p.yield()
	}
	return id
}

// Reply enqueues msg tagged with id, the request id being answered,
// blocking while the send queue is full.
func (p *Port[I, O]) Reply(id int64, msg O) {
	wrapped := Wrapper[O]{Msg: msg, ID: id}
	for !p.sendPort.Push(wrapped) {
		p.yield()
	}
}

func (p *Port[I, O]) yield() {
	if p.Yield != nil {
		p.Yield()
	}
}

// tryRecv peeks the head of the receive queue, returning its id if the
// queue is non-empty and test accepts it.
func (p *Port[I, O]) tryRecv(test func(int64) bool) (int64, bool) {
	id := p.recvPort.PeekID()
	if id != 0 && test(id) {
		return id, true
	}
	return 0, false
}

// SpinRecv blocks until a message with the given id (or any message, if
// id is 0) arrives, then pops and returns it.
func (p *Port[I, O]) SpinRecv(id int64) (int64, I) {
	for {
		if gotID, ok := p.tryRecv(func(a int64) bool { return id == 0 || id == a }); ok {
			msg, ok := p.recvPort.PopID(gotID)
			if !ok {
				panic("msgport: expected message present after peek")
			}
			return msg.ID, msg.Msg
		}
		p.yield()
	}
}

// Resolve non-blockingly checks for a reply addressed back to this
// side: initiators look for negative ids (responses), responders look
// for positive ids (fresh requests).
func (p *Port[I, O]) Resolve() (int64, I, bool) {
	test := func(a int64) bool { return a > 0 }
	if p.Initiator {
		test = func(a int64) bool { return a < 0 }
	}
	id, ok := p.tryRecv(test)
	if !ok {
		var zero I
		return 0, zero, false
	}
	msg, ok := p.recvPort.PopID(id)
	if !ok {
		panic("msgport: expected message present after peek")
	}
	return msg.ID, msg.Msg, true
}
