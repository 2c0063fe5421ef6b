// Package shutdown coordinates graceful teardown of the wizard server:
// stop accepting requests, cancel in-flight generation runs, then close the
// session store.
package shutdown

import (
	"container/heap"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/flanksource/commons/logger"
)

// Hook priorities; lower runs first.
const (
	PriorityIngress = 0   // HTTP listener
	PriorityRuns    = 100 // in-flight generation runs
	PriorityStore   = 200 // session store / database
)

type hook struct {
	label    string
	priority int
	fn       func()
	index    int
}

type hookHeap []*hook

func (h hookHeap) Len() int           { return len(h) }
func (h hookHeap) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h hookHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *hookHeap) Push(x interface{}) {
	item := x.(*hook)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *hookHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

var (
	hooks    hookHeap
	hooksMux sync.Mutex
	once     sync.Once
)

// AddHook registers a teardown step at the given priority.
func AddHook(label string, priority int, fn func()) {
	hooksMux.Lock()
	defer hooksMux.Unlock()
	heap.Push(&hooks, &hook{label: label, priority: priority, fn: fn})
}

// Shutdown executes all registered hooks in priority order. A panicking
// hook does not stop the rest.
func Shutdown() {
	hooksMux.Lock()
	defer hooksMux.Unlock()

	if hooks.Len() == 0 {
		return
	}
	logger.Infof("executing %d shutdown hooks", hooks.Len())
	for hooks.Len() > 0 {
		h := heap.Pop(&hooks).(*hook)
		logger.Debugf("shutdown hook: %s (priority=%d)", h.label, h.priority)
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("panic in shutdown hook %s: %v", h.label, r)
				}
			}()
			h.fn()
		}()
	}
}

// WaitForSignal blocks until SIGINT/SIGTERM, then runs the hooks and
// exits. A second signal forces immediate exit.
func WaitForSignal() {
	once.Do(func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s, shutting down (Ctrl+C again to force)\n", sig)
		go func() {
			<-sigChan
			os.Exit(1)
		}()

		Shutdown()
		os.Exit(0)
	})
}

// RunAndWait starts fn and then waits for a shutdown signal.
func RunAndWait(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	WaitForSignal()
	return nil
}
