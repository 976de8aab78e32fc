package status

import (
	"sync"
	"time"

	"github.com/biglietto/sealbridge/internal/logging"
)

// DeviceStatus is the externally observable snapshot of the bridge session:
// relay link, bridge link, reader and card presence, and PIN security state.
// Snapshots are immutable values; they are replaced wholesale, never mutated
// in place, so every subscriber observes a fully consistent view.
type DeviceStatus struct {
	Connected        bool      `json:"connected"`
	RelayConnected   bool      `json:"relayConnected"`
	BridgeConnected  bool      `json:"bridgeConnected"`
	ReaderDetected   bool      `json:"readerDetected"`
	CardInserted     bool      `json:"cardInserted"`
	ReaderName       string    `json:"readerName,omitempty"`
	CardATR          string    `json:"cardAtr,omitempty"`
	CardSerial       string    `json:"cardSerial,omitempty"`
	CardCounter      int64     `json:"cardCounter,omitempty"`
	CardBalance      int64     `json:"cardBalance,omitempty"`
	CardKeyID        string    `json:"cardKeyId,omitempty"`
	CardType         string    `json:"cardType,omitempty"`
	PinRetriesLeft   *int      `json:"pinRetriesLeft"`
	PukRetriesLeft   *int      `json:"pukRetriesLeft"`
	PinVerified      bool      `json:"pinVerified"`
	PinBlocked       bool      `json:"pinBlocked"`
	CanEmitRealSeals bool      `json:"canEmitRealSeals"`
	DemoMode         bool      `json:"demoMode"`
	LastCheck        time.Time `json:"lastCheck"`
	Error            string    `json:"error,omitempty"`
}

// Equal reports whether two snapshots carry the same observable state.
// LastCheck is excluded: it only records when the snapshot was taken.
func (s DeviceStatus) Equal(o DeviceStatus) bool {
	return s.Connected == o.Connected &&
		s.RelayConnected == o.RelayConnected &&
		s.BridgeConnected == o.BridgeConnected &&
		s.ReaderDetected == o.ReaderDetected &&
		s.CardInserted == o.CardInserted &&
		s.ReaderName == o.ReaderName &&
		s.CardATR == o.CardATR &&
		s.CardSerial == o.CardSerial &&
		s.CardCounter == o.CardCounter &&
		s.CardBalance == o.CardBalance &&
		s.CardKeyID == o.CardKeyID &&
		s.CardType == o.CardType &&
		intPtrEqual(s.PinRetriesLeft, o.PinRetriesLeft) &&
		intPtrEqual(s.PukRetriesLeft, o.PukRetriesLeft) &&
		s.PinVerified == o.PinVerified &&
		s.PinBlocked == o.PinBlocked &&
		s.CanEmitRealSeals == o.CanEmitRealSeals &&
		s.DemoMode == o.DemoMode &&
		s.Error == o.Error
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtr(v int) *int { return &v }

func clonePtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Listener receives every new snapshot, and the current one on subscribe.
type Listener func(DeviceStatus)

// Store holds the single current DeviceStatus and fans changes out to
// subscribers. Replace only swaps and notifies when the new snapshot
// actually differs, so no-op updates produce zero notifications.
type Store struct {
	mu        sync.RWMutex
	notifyMu  sync.Mutex
	current   DeviceStatus
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a store seeded with a disconnected snapshot.
func NewStore() *Store {
	return &Store{
		current:   finalize(DeviceStatus{LastCheck: time.Now()}),
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns the last known status. It never blocks on the channel.
func (st *Store) Snapshot() DeviceStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Subscribe registers a listener and invokes it immediately with the current
// snapshot. The returned function removes the listener; calling it more than
// once is harmless.
func (st *Store) Subscribe(fn Listener) (unsubscribe func()) {
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.listeners[id] = fn
	cur := st.current
	st.mu.Unlock()

	invoke(fn, cur)

	return func() {
		st.mu.Lock()
		delete(st.listeners, id)
		st.mu.Unlock()
	}
}

// Replace swaps in the next snapshot if it differs from the current one and
// notifies all listeners. Notifications for successive replacements are
// serialized so listeners observe snapshots in replacement order.
func (st *Store) Replace(next DeviceStatus) {
	st.Update(func(DeviceStatus) DeviceStatus { return next })
}

// Update applies a reducer to the current snapshot and swaps in the result.
// The read-reduce-swap sequence is atomic with respect to other updates, so
// concurrent reducers never clobber each other's changes.
func (st *Store) Update(apply func(DeviceStatus) DeviceStatus) {
	st.notifyMu.Lock()
	defer st.notifyMu.Unlock()

	st.mu.Lock()
	next := apply(st.current)
	if next.Equal(st.current) {
		st.mu.Unlock()
		return
	}
	next.LastCheck = time.Now()
	st.current = next
	fns := make([]Listener, 0, len(st.listeners))
	for _, fn := range st.listeners {
		fns = append(fns, fn)
	}
	st.mu.Unlock()

	for _, fn := range fns {
		invoke(fn, next)
	}
}

// invoke runs a listener inside its own recovery boundary so one panicking
// subscriber cannot starve the others.
func invoke(fn Listener, snap DeviceStatus) {
	defer logging.RecoverAndLog("status listener", false)
	fn(snap)
}
