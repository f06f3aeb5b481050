package actor

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler is the user-supplied behavior of a service. All hooks run on the
// owning worker's loop, one at a time; they must not block - long work is
// chunked across Update ticks.
type Handler interface {
	// Init runs before the service is inserted into the worker table. A non-nil
	// error aborts the insertion.
	Init(ctx *Context) error

	// Start runs once when the hosting server starts, for every service
	// inserted by then; a service inserted later gets no Start call. It runs
	// again if the host re-posts a start; implementations tolerate that.
	Start()

	// Update runs on every worker tick, before deferred messages drain.
	Update()

	// HandleMessage receives one inbound message. The message is owned by the
	// runtime; retain the payload only by copying or via the per-tick cache.
	HandleMessage(msg *Message)

	// Exit asks the service to shut down. Implementations flush what they must
	// and then call Context.Exit; embedding Base gives that behavior for free.
	Exit()

	// Destroy runs when the service is removed, after its components are
	// destroyed.
	Destroy()
}

// Component is an attachment owned by a service (a TCP manager, a timer
// wheel) that must be torn down when the service is destroyed.
type Component interface {
	Destroy()
}

// Base is a no-op Handler to embed in user services; override what you need.
type Base struct {
	Ctx *Context
}

func (b *Base) Init(ctx *Context) error { b.Ctx = ctx; return nil }
func (b *Base) Start()                  {}
func (b *Base) Update()                 {}
func (b *Base) HandleMessage(*Message)  {}
func (b *Base) Exit()                   { b.Ctx.Exit() }
func (b *Base) Destroy()                {}

// Service binds a Handler to its identity and owning worker. All fields are
// touched only from the worker loop except ok, which posted callbacks from
// other goroutines read to decide whether their target is still alive.
type Service struct {
	id      ID
	name    string
	worker  *Worker
	handler Handler
	ok      atomic.Bool
	ctx     *Context

	components []Component
	log        *zap.SugaredLogger
}

func newService(id ID, name string, handler Handler, w *Worker) *Service {
	s := &Service{
		id:      id,
		name:    name,
		worker:  w,
		handler: handler,
		log:     w.log.Named(name),
	}
	s.ctx = &Context{s: s}
	return s
}

// ID returns the service id.
func (s *Service) ID() ID { return s.id }

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// OK reports whether the service is inserted and not destroyed. Safe to call
// from any goroutine.
func (s *Service) OK() bool { return s.ok.Load() }

// destroy flips ok, tears down components, then runs the user Destroy hook.
// Runs on the worker loop.
func (s *Service) destroy() {
	s.ok.Store(false)
	for _, c := range s.components {
		c.Destroy()
	}
	s.components = nil
	s.handler.Destroy()
}
