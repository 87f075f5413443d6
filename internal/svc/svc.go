// Package svc runs closures one at a time on a dedicated goroutine.
//
// An Svc plays the role of a UI thread: every mutation posted to it runs in
// submission order and never concurrently with another posted closure.
package svc

import (
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by Sync after Close.
var ErrClosed = errors.New("svc: closed")

// Svc is an ordered, unbounded work queue drained by a single goroutine.
type Svc struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool // a closure is executing
	closed  bool
	done    chan struct{}
}

// New starts a service goroutine.
func New() *Svc {
	s := &Svc{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Post queues code without waiting. Posting to a closed Svc drops the code.
func (s *Svc) Post(code func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, code)
	s.cond.Broadcast()
}

// Sync runs code on the service goroutine and waits for its result.
// Calling Sync from inside a posted closure deadlocks.
func Sync[T any](s *Svc, code func() (T, error)) (T, error) {
	result := make(chan struct{})
	var value T
	var err error
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return value, ErrClosed
	}
	s.queue = append(s.queue, func() {
		defer close(result)
		value, err = code()
	})
	s.cond.Broadcast()
	s.mu.Unlock()
	<-result
	return value, err
}

// Idle blocks until the queue is empty and nothing is executing.
func (s *Svc) Idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for (len(s.queue) > 0 || s.running) && !s.closed {
		s.cond.Wait()
	}
}

// Close stops the service after the queued closures have run.
func (s *Svc) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Svc) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		code := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running = true
		s.mu.Unlock()

		safe(code)

		s.mu.Lock()
		s.running = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// safe runs code, logging instead of crashing the service on panic.
func safe(code func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in svc: %v", r)
		}
	}()
	code()
}
