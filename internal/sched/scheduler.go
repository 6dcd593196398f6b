package sched

import (
	"runtime"
	"sync"
)

// scheduler_t holds the FIFO run queue of process threads and the
// name-indexed table of service threads (PM, FS), mirroring Scheduler's
// split between threads and services.
type scheduler_t struct {
	sync.Mutex
	queue    []*Thread
	services map[string]*Thread
}

var sched_ = scheduler_t{services: map[string]*Thread{}}

// Reset clears the run queue, service table, and current thread. It
// exists for test isolation; production boot code never calls it.
func Reset() {
	sched_.Lock()
	sched_.queue = nil
	sched_.services = map[string]*Thread{}
	sched_.Unlock()
	processor_.clearCurrent()
}

// AddThread enqueues a process thread at the back of the run queue. pid
// must be non-zero, matching the original's assertion that services
// (pid 0) never enter the round-robin queue directly.
func AddThread(t *Thread) {
	if t.Info.PID == 0 {
		panic("sched: add a thread with pid 0")
	}
	sched_.Lock()
	defer sched_.Unlock()
	sched_.queue = append(sched_.queue, t)
}

// AddService registers a pid-0 service thread (PM or FS) by name,
// outside the ordinary round-robin rotation.
func AddService(name string, t *Thread) {
	sched_.Lock()
	defer sched_.Unlock()
	sched_.services[name] = t
}

// Service looks up a previously registered service thread by name.
func Service(name string) (*Thread, bool) {
	sched_.Lock()
	defer sched_.Unlock()
	t, ok := sched_.services[name]
	return t, ok
}

func popThread() (*Thread, bool) {
	sched_.Lock()
	defer sched_.Unlock()
	if len(sched_.queue) == 0 {
		return nil, false
	}
	t := sched_.queue[0]
	sched_.queue = sched_.queue[1:]
	return t, true
}

// Len reports how many threads are waiting in the run queue, used by
// tests to check fairness and by diagnostics.
func Len() int {
	sched_.Lock()
	defer sched_.Unlock()
	return len(sched_.queue)
}

// runServices gives every registered service thread one turn: a
// service that suspended stays registered for the next turn, while an
// exited service is dropped from the table since resuming its
// goroutine again would deadlock against a body that already returned.
func runServices() {
	sched_.Lock()
	names := make([]string, 0, len(sched_.services))
	for name := range sched_.services {
		names = append(names, name)
	}
	sched_.Unlock()

	for _, name := range names {
		sched_.Lock()
		t, ok := sched_.services[name]
		sched_.Unlock()
		if !ok {
			continue
		}
		processor_.setCurrent(t)
		reason := t.resume()
		processor_.clearCurrent()
		if reason == yieldExit {
			sched_.Lock()
			delete(sched_.services, name)
			sched_.Unlock()
		}
	}
}

func hasServices() bool {
	sched_.Lock()
	defer sched_.Unlock()
	return len(sched_.services) > 0
}

// StartSchedule runs the idle loop: give every registered service
// thread a turn, then pop the next ordinary thread, make it current,
// switch to it, and on return either requeue it (suspended) or drop it
// (exited). It returns once the run queue is empty with no services
// left to service, rather than looping forever, so tests and the boot
// CLI can observe completion; with services still registered and
// nothing queued, it keeps giving them turns (so a PM/FS service can
// answer a request sent after the run queue drained) instead of
// returning out from under them.
func StartSchedule() {
	for {
		runServices()

		t, ok := popThread()
		if !ok {
			if !hasServices() {
				return
			}
			runtime.Gosched()
			continue
		}
		processor_.setCurrent(t)
		reason := t.resume()
		processor_.clearCurrent()
		if reason == yieldSuspend {
			AddThread(t)
		}
	}
}
