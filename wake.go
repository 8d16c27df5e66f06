package openeth

import (
	"gvisor.dev/gvisor/pkg/sleep"
)

// wakeSignal is the hand-off between the interrupt handler and the receive
// task. Any number of notifications before the task wakes collapse into one
// wakeup. Stopping takes priority over pending receive notifications.
//
// Only the receive task may call wait; notify and stop are safe from any
// goroutine, including interrupt context.
type wakeSignal struct {
	s    sleep.Sleeper
	rx   sleep.Waker
	halt sleep.Waker
}

func newWakeSignal() *wakeSignal {
	w := &wakeSignal{}
	w.s.AddWaker(&w.halt)
	w.s.AddWaker(&w.rx)
	return w
}

// notify never blocks.
func (w *wakeSignal) notify() {
	w.rx.Assert()
}

func (w *wakeSignal) stop() {
	w.halt.Assert()
}

// wait blocks until a notification or a stop arrives. It returns false once
// stop was called.
func (w *wakeSignal) wait() bool {
	if w.halt.IsAsserted() {
		return false
	}
	return w.s.Fetch(true) != &w.halt
}

// done releases the sleeper. It must be called by the receive task on exit.
func (w *wakeSignal) done() {
	w.s.Done()
}
