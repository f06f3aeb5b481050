package actor

import (
	"go.uber.org/zap"
)

// Context is the capability surface a Handler uses to interact with the
// runtime. Every method is safe to call from the owning worker loop; Post,
// Alive and Handle are additionally safe from other goroutines, which is how
// network callbacks hop back onto the loop.
type Context struct {
	s *Service
}

// ID returns the id of the service.
func (c *Context) ID() ID { return c.s.id }

// Name returns the name of the service.
func (c *Context) Name() string { return c.s.name }

// Logger returns the service's named logger.
func (c *Context) Logger() *zap.SugaredLogger { return c.s.log }

// Alive reports whether the service is still inserted and not destroyed.
func (c *Context) Alive() bool { return c.s.ok.Load() }

// Post runs fn on the owning worker's loop. Callbacks that may outlive the
// service check Alive first and bail out.
func (c *Context) Post(fn func()) { c.s.worker.Post(fn) }

// Send routes a message from this service. The sender field is stamped with
// this service's id. Same-worker traffic is deferred to the next tick; cross-
// worker traffic is forwarded immediately.
func (c *Context) Send(msg *Message) {
	msg.Sender = c.s.id
	c.s.worker.server.sendFrom(c.s.worker, msg)
}

// MakeResponse replies to an earlier request: respid is the positive id
// received with the request, and the reply carries its negation.
func (c *Context) MakeResponse(receiver ID, header, body string, respid int32, mtype MsgType) {
	c.s.worker.server.makeResponseFrom(c.s.id, receiver, header, body, respid, mtype)
}

// Handle delivers a message directly to this service by posting it to the
// worker loop. Used by components (connection framers) publishing inbound
// frames. The delivery self-cancels if the service is gone by the time the
// task runs.
func (c *Context) Handle(msg *Message) {
	s := c.s
	s.worker.Post(func() {
		if !s.ok.Load() {
			return
		}
		s.worker.invoke(s, func() { s.handler.HandleMessage(msg) })
	})
}

// Exit removes the service from its worker. Peers on the same worker receive
// a system exit broadcast.
func (c *Context) Exit() {
	c.s.worker.RemoveService(c.s.id, 0, 0, false)
}

// AddComponent attaches a component that is destroyed with the service. Must
// be called from the worker loop (typically inside Init).
func (c *Context) AddComponent(comp Component) {
	c.s.components = append(c.s.components, comp)
}

// MakeCache stores a buffer in the worker's per-tick cache and returns its
// id. Cache ids minted in tick T are valid only until T's drain completes.
func (c *Context) MakeCache(buf []byte) uint32 {
	return c.s.worker.MakeCache(buf)
}

// GetCache returns a buffer stored with MakeCache in the current tick, or nil.
func (c *Context) GetCache(id uint32) []byte {
	return c.s.worker.GetCache(id)
}
