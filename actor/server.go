package actor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/loom/errors"
	"github.com/teranos/loom/logger"
)

// DefaultUpdateInterval is the tick cadence used when the caller does not
// configure one. Deferred messages drain only on ticks, so this bounds their
// delivery latency.
const DefaultUpdateInterval = 10 * time.Millisecond

// Server is the process-wide orchestrator: it creates workers, assigns worker
// ids, routes cross-worker sends, fans out broadcasts, and brokers replies.
type Server struct {
	workers  []*Worker // index i holds worker id i+1
	interval time.Duration
	log      *zap.SugaredLogger

	names struct {
		sync.RWMutex
		byName map[string]ID
		byID   map[ID]string
	}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server hosting workerNum workers (1..255). The workers
// are idle until Run.
func NewServer(workerNum int, interval time.Duration, log *zap.SugaredLogger) (*Server, error) {
	if workerNum < 1 || workerNum > MaxWorkerNum {
		return nil, errors.Newf("worker count out of range: %d (want 1..%d)", workerNum, MaxWorkerNum)
	}
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
	s.names.byName = make(map[string]ID)
	s.names.byID = make(map[ID]string)
	for i := 1; i <= workerNum; i++ {
		s.workers = append(s.workers, newWorker(uint8(i), s, log))
	}
	return s, nil
}

// Logger returns the server's logger sink.
func (s *Server) Logger() *zap.SugaredLogger { return s.log }

// WorkerNum returns the number of workers.
func (s *Server) WorkerNum() int { return len(s.workers) }

// Worker returns the worker with the given id, or nil.
func (s *Server) Worker(id uint8) *Worker {
	if id < 1 || int(id) > len(s.workers) {
		return nil
	}
	return s.workers[id-1]
}

// workerOf resolves the worker encoded in a service id.
func (s *Server) workerOf(id ID) *Worker {
	return s.Worker(id.WorkerID())
}

// Run starts every worker loop, posts the one-time service starts, and
// launches the periodic update driver.
func (s *Server) Run() {
	for _, w := range s.workers {
		w.Run()
	}
	for _, w := range s.workers {
		w.Start()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				for _, w := range s.workers {
					w.Update()
				}
			}
		}
	}()
}

// Stop initiates shutdown: the update driver stops and every worker is asked
// to retire its services. Use Wait to block until done.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		for _, w := range s.workers {
			w.Stop()
		}
	})
}

// Wait blocks until every worker has emptied its service table and its loop
// has terminated.
func (s *Server) Wait() {
	s.wg.Wait()
	for {
		allStopped := true
		for _, w := range s.workers {
			if !w.Stopped() {
				allStopped = false
				break
			}
		}
		if allStopped {
			break
		}
		time.Sleep(time.Millisecond)
	}
	for _, w := range s.workers {
		w.Wait()
	}
}

// NewService places handler on a worker and posts its insertion. workerHint
// selects a specific worker id; pass 0 to pick the least-loaded shared
// worker. Returns the new service id; the service becomes addressable once
// the posted insertion runs.
func (s *Server) NewService(name string, handler Handler, workerHint uint8) (ID, error) {
	w := s.pickWorker(workerHint)
	if w == nil {
		return 0, errors.Newf("no worker available for service %q (hint %d)", name, workerHint)
	}
	id := w.makeServiceID()
	w.AddService(newService(id, name, handler, w))
	return id, nil
}

func (s *Server) pickWorker(hint uint8) *Worker {
	if hint != 0 {
		return s.Worker(hint)
	}
	var best *Worker
	for _, w := range s.workers {
		if !w.Shared() {
			continue
		}
		if best == nil || w.ServiceNum() < best.ServiceNum() {
			best = w
		}
	}
	return best
}

// RemoveService routes a removal to the owning worker. The requester receives
// the destroy reply; with crashed set, peers are told the service crashed.
func (s *Server) RemoveService(id ID, sender ID, respid int32, crashed bool) {
	w := s.workerOf(id)
	if w == nil {
		s.MakeResponse(sender, "error", "remove_service: service not found", respid, TypeError)
		return
	}
	w.RemoveService(id, sender, respid, crashed)
}

// Send routes a message to the worker owning its receiver. Routing from
// outside any worker is always immediate.
func (s *Server) Send(msg *Message) {
	s.sendFrom(nil, msg)
}

// sendFrom routes msg on behalf of a sender living on local (nil when the
// sender is not a service). Same-worker traffic is deferred to the next tick
// to amortize task overhead; everything else forwards immediately.
func (s *Server) sendFrom(local *Worker, msg *Message) {
	w := s.workerOf(msg.Receiver)
	if w == nil {
		s.MakeResponse(msg.Sender, "error", "call dead service.", msg.ResponseID, TypeError)
		return
	}
	w.Send(msg, w != local)
}

// Broadcast fans msg out to every worker; each worker delivers it to all its
// ok services except the sender.
func (s *Server) Broadcast(sender ID, msg *Message) {
	msg.Sender = sender
	msg.Broadcast = true
	for _, w := range s.workers {
		w.Send(msg, true)
	}
}

// MakeResponse routes a reply carrying the negation of respid. respid zero
// means the requester expects nothing and the call is a no-op. Infrastructure
// reply paths funnel through here so the sign discipline lives in one place.
func (s *Server) MakeResponse(receiver ID, header, body string, respid int32, mtype MsgType) {
	s.makeResponseFrom(0, receiver, header, body, respid, mtype)
}

// makeResponseFrom is MakeResponse with an explicit reply sender: service
// replies carry the callee's id, infrastructure replies carry 0 ("system").
func (s *Server) makeResponseFrom(sender, receiver ID, header, body string, respid int32, mtype MsgType) {
	if respid == 0 {
		return
	}
	if respid < 0 {
		// Replying to a reply indicates a sign-discipline violation upstream.
		s.log.Debugw("make_response called with negative response id",
			logger.FieldReceiver, uint32(receiver),
			logger.FieldResponseID, respid)
	}
	if !receiver.Valid() {
		return
	}
	s.Send(&Message{
		Sender:     sender,
		Receiver:   receiver,
		ResponseID: -respid,
		Type:       mtype,
		Header:     header,
		Payload:    []byte(body),
	})
}

// Register records a unique name for a service. Returns false when the name
// is taken. The entry is dropped automatically when the service is removed
// normally; a crashed removal leaves it in place.
func (s *Server) Register(name string, id ID) bool {
	s.names.Lock()
	defer s.names.Unlock()
	if _, taken := s.names.byName[name]; taken {
		return false
	}
	s.names.byName[name] = id
	s.names.byID[id] = name
	return true
}

// Query resolves a registered unique name; 0 when unknown.
func (s *Server) Query(name string) ID {
	s.names.RLock()
	defer s.names.RUnlock()
	return s.names.byName[name]
}

// onServiceRemove drops the unique-name registration of a removed service.
func (s *Server) onServiceRemove(id ID) {
	s.names.Lock()
	defer s.names.Unlock()
	if name, found := s.names.byID[id]; found {
		delete(s.names.byName, name)
		delete(s.names.byID, id)
	}
}

// WorkerTimes asks every worker for its utilization report; each reply
// arrives separately at sender with the negation of respid.
func (s *Server) WorkerTimes(sender ID, respid int32) {
	for _, w := range s.workers {
		w.WorkerTime(sender, respid)
	}
}
