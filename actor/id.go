package actor

// Service ids encode their owning worker: the top byte is the worker id
// (1..255) and the low 24 bits carry a per-worker counter in 1..MaxServiceNum.
// Id 0 is never a valid service; senders and receivers use it to mean
// "system".
const (
	// WorkerIDShift is the bit offset of the worker id inside a service id
	WorkerIDShift = 24

	// MaxServiceNum bounds the per-worker service counter; the counter wraps
	// modulo this value and is biased by one so an id is never 0
	MaxServiceNum = 0xFFFF

	// MaxWorkerNum is the highest worker id expressible in the top byte
	MaxWorkerNum = 0xFF
)

// ID identifies a service for its entire lifetime within the process.
type ID uint32

// WorkerID returns the id of the worker that owns this service.
func (id ID) WorkerID() uint8 {
	return uint8(id >> WorkerIDShift)
}

// Valid reports whether the id can refer to a service at all.
func (id ID) Valid() bool {
	return id != 0
}
