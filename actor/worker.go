package actor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/loom/errors"
	"github.com/teranos/loom/logger"
)

// Worker is a single-goroutine cooperative execution unit. It owns a service
// table, an inbound deferred message queue, and a per-tick cache table, and
// serializes every touch of that state through tasks posted to its loop.
//
// Only the atomics (shared, stopped, serviceNum, serviceUID) are read from
// other goroutines; everything else is loop-confined.
type Worker struct {
	id     uint8
	server *Server
	log    *zap.SugaredLogger

	tasks *taskQueue
	wg    sync.WaitGroup

	// loop-confined state
	services  map[ID]*Service
	caches    map[uint32][]byte
	cacheUUID uint32
	exit      bool
	startTime int64 // millis, busy-time accounting window start
	workTime  int64 // millis spent inside update ticks since startTime

	// deferred is the non-immediate inbound queue, bulk-drained per tick.
	// Multi-producer; the drain swaps the slice out under the lock.
	deferred struct {
		sync.Mutex
		pending []*Message
	}
	swapQueue []*Message

	shared     atomic.Bool
	stopped    atomic.Bool
	serviceUID atomic.Uint32
	serviceNum atomic.Uint32

	timeNow func() time.Time
}

func newWorker(id uint8, srv *Server, log *zap.SugaredLogger) *Worker {
	w := &Worker{
		id:       id,
		server:   srv,
		log:      log.Named(fmt.Sprintf("worker%d", id)),
		tasks:    newTaskQueue(),
		services: make(map[ID]*Service),
		caches:   make(map[uint32][]byte),
		timeNow:  time.Now,
	}
	w.shared.Store(true)
	w.stopped.Store(true)
	return w
}

// ID returns the worker id (1..255).
func (w *Worker) ID() uint8 { return w.id }

// Shared reports whether the server may place new services on this worker.
func (w *Worker) Shared() bool { return w.shared.Load() }

// SetShared marks the worker as accepting (or refusing) new services.
func (w *Worker) SetShared(v bool) { w.shared.Store(v) }

// Stopped reports whether the worker has finished shutting down: its exit was
// requested and its service table is empty. It also reports true for a
// worker that has not been Run yet.
func (w *Worker) Stopped() bool { return w.stopped.Load() }

// ServiceNum returns the current number of services, possibly slightly stale.
func (w *Worker) ServiceNum() uint32 { return w.serviceNum.Load() }

// Run spawns the worker goroutine and starts draining tasks.
func (w *Worker) Run() {
	w.stopped.Store(false)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.log.Infow("worker start", logger.FieldWorkerID, w.id)
		w.startTime = w.timeNow().UnixMilli()
		w.loop()
		w.log.Infow("worker stop", logger.FieldWorkerID, w.id)
	}()
}

func (w *Worker) loop() {
	for {
		batch := w.tasks.take()
		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if w.tasks.isClosed() {
			return
		}
		<-w.tasks.wake
	}
}

// Post enqueues fn to run on the worker loop. Non-blocking; posts after the
// loop has been told to terminate are dropped.
func (w *Worker) Post(fn func()) {
	w.tasks.push(fn)
}

// Stop initiates shutdown: every current service is asked to exit. The worker
// becomes Stopped once its service table empties.
func (w *Worker) Stop() {
	w.Post(func() {
		if w.exit {
			return
		}
		if len(w.services) == 0 {
			w.stopped.Store(true)
			return
		}
		w.exit = true
		for _, s := range w.services {
			svc := s
			w.invoke(svc, svc.handler.Exit)
		}
	})
}

// Wait terminates the loop after draining already-posted tasks and joins the
// worker goroutine.
func (w *Worker) Wait() {
	w.tasks.close()
	w.wg.Wait()
}

// makeServiceID allocates the next service id for this worker. The low 24
// bits advance monotonically modulo MaxServiceNum, biased so 0 never appears.
func (w *Worker) makeServiceID() ID {
	uid := (w.serviceUID.Add(1) - 1) % MaxServiceNum
	return ID(uid+1) | ID(w.id)<<WorkerIDShift
}

// AddService posts the insertion of s; once the task runs, s is addressable.
// A duplicate id is a bug in the hosting layer and panics.
func (w *Worker) AddService(s *Service) {
	w.Post(func() {
		if _, dup := w.services[s.id]; dup {
			w.log.Panicw("service id repeated",
				logger.FieldServiceID, uint32(s.id),
				logger.FieldService, s.name)
		}
		if err := safeInit(s); err != nil {
			w.log.Errorw("service init failed",
				logger.FieldService, s.name,
				logger.FieldServiceID, uint32(s.id),
				logger.FieldError, err)
			return
		}
		w.services[s.id] = s
		s.ok.Store(true)
		w.serviceNum.Store(uint32(len(w.services)))
		w.log.Infow("new service",
			logger.FieldService, s.name,
			logger.FieldServiceID, uint32(s.id))
	})
}

// RemoveService posts the destruction of the service. The requester (sender,
// respid) receives a reply whose body names the destroyed service; peers
// receive a system exit broadcast.
func (w *Worker) RemoveService(id ID, sender ID, respid int32, crashed bool) {
	w.Post(func() {
		s, found := w.services[id]
		if found {
			w.safeDestroy(s)
			body := fmt.Sprintf(`{"name":%q,"serviceid":%d}`, s.name, uint32(id))
			if !crashed {
				w.server.onServiceRemove(id)
			}
			delete(w.services, id)
			w.serviceNum.Store(uint32(len(w.services)))
			if len(w.services) == 0 {
				w.shared.Store(true)
			}
			w.server.MakeResponse(sender, "service destroy", body, respid, TypeSocket)
			w.log.Infow("service destroy",
				logger.FieldService, s.name,
				logger.FieldServiceID, uint32(id))

			m := &Message{
				Type:   TypeSystem,
				Header: "exit",
			}
			if crashed {
				m.Payload = []byte("service crashed")
			} else {
				m.Payload = []byte("service exit")
			}
			w.server.Broadcast(id, m)
		} else {
			w.server.MakeResponse(sender, "error", "remove_service: service not found", respid, TypeError)
		}

		if len(w.services) == 0 && w.exit {
			w.stopped.Store(true)
		}
	})
}

// Send delivers a message to a service living on this worker. Immediate mode
// posts a task dispatching the single message; deferred mode appends to the
// bulk queue drained on the next Update tick.
func (w *Worker) Send(msg *Message, immediate bool) {
	if immediate {
		w.Post(func() { w.handleOne(nil, msg) })
		return
	}
	w.deferred.Lock()
	w.deferred.pending = append(w.deferred.pending, msg)
	w.deferred.Unlock()
}

// Start posts a one-time Start invocation on every current service.
func (w *Worker) Start() {
	w.Post(func() {
		for _, s := range w.services {
			svc := s
			w.invoke(svc, svc.handler.Start)
		}
	})
}

// Update posts one tick: per-service update hooks, then the deferred-queue
// drain, then the per-tick cache reset.
func (w *Worker) Update() {
	w.Post(func() {
		begin := w.timeNow().UnixMilli()

		for _, s := range w.services {
			svc := s
			w.invoke(svc, svc.handler.Update)
		}

		w.deferred.Lock()
		batch := w.deferred.pending
		w.deferred.pending = w.swapQueue[:0]
		w.deferred.Unlock()
		w.swapQueue = batch

		for _, msg := range batch {
			w.handleOne(nil, msg)
		}

		if w.cacheUUID != 0 {
			w.cacheUUID = 0
			clear(w.caches)
		}

		w.workTime += w.timeNow().UnixMilli() - begin
	})
}

// MakeCache stores buf in the per-tick cache. The returned id is valid only
// until the current tick's drain completes. Loop-confined.
func (w *Worker) MakeCache(buf []byte) uint32 {
	id := w.cacheUUID
	w.cacheUUID++
	w.caches[id] = buf
	return id
}

// GetCache returns the buffer stored under cacheid in the current tick.
func (w *Worker) GetCache(cacheid uint32) []byte {
	buf, found := w.caches[cacheid]
	if !found {
		w.log.Debugw("cache lookup failed", "cache_id", cacheid)
		return nil
	}
	return buf
}

// WorkerTime reports CPU utilization as busy-ms over wall-ms since the last
// query, replied as ["worker<N>",<percent>] with two decimals. Counters reset
// on each query.
func (w *Worker) WorkerTime(sender ID, respid int32) {
	w.Post(func() {
		cur := w.timeNow().UnixMilli()
		total := cur - w.startTime
		body := fmt.Sprintf(`["worker%d",%.2f]`, w.id, utilization(w.workTime, total))
		w.server.MakeResponse(sender, "", body, respid, TypeSocket)
		w.startTime = cur
		w.workTime = 0
	})
}

// utilization converts a busy/total millisecond pair into a percentage.
func utilization(work, total int64) float64 {
	if total <= 0 {
		total = 1
	}
	return float64(work) / float64(total) * 100
}

// findService returns the live service with the given id, or nil.
func (w *Worker) findService(id ID) *Service {
	return w.services[id]
}

// handleOne dispatches a single message. Broadcasts go to every ok service
// except the sender; a miss on a directed message yields the dead-service
// error reply instead of an abort.
func (w *Worker) handleOne(ser *Service, msg *Message) {
	if msg.Broadcast {
		for _, s := range w.services {
			if s.ok.Load() && s.id != msg.Sender {
				svc := s
				w.invoke(svc, func() { svc.handler.HandleMessage(msg) })
			}
		}
		return
	}

	if ser == nil || ser.id != msg.Receiver {
		ser = w.findService(msg.Receiver)
		if ser == nil {
			w.server.MakeResponse(msg.Sender, "error", "call dead service.", msg.ResponseID, TypeError)
			return
		}
	}
	w.invoke(ser, func() { ser.handler.HandleMessage(msg) })
}

// safeInit runs the user Init hook, converting a panic into an error so a
// broken handler cannot unwind across the loop.
func safeInit(s *Service) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("init panic: %v", r)
		}
	}()
	return s.handler.Init(s.ctx)
}

// safeDestroy tears a service down without letting a panicking Destroy hook
// unwind across the loop.
func (w *Worker) safeDestroy(s *Service) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("service destroy panic",
				logger.FieldService, s.name,
				logger.FieldServiceID, uint32(s.id),
				logger.FieldError, r)
		}
	}()
	s.destroy()
}

// invoke runs a handler hook, converting a panic into a crashed removal so
// errors never unwind across the loop.
func (w *Worker) invoke(s *Service, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("service panic",
				logger.FieldService, s.name,
				logger.FieldServiceID, uint32(s.id),
				logger.FieldError, r)
			w.RemoveService(s.id, 0, 0, true)
		}
	}()
	fn()
}
