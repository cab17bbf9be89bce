package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/lowaak/cycle-computer/internal/events"
	"github.com/lowaak/cycle-computer/internal/metrics"
	"github.com/lowaak/cycle-computer/internal/sensor"

	"go.uber.org/zap"
)

// SampleWriter persists raw samples under a session key.
type SampleWriter interface {
	Insert(sessionKey uint64, sample sensor.RawSample) error
}

type classState struct {
	mu     sync.Mutex
	stream Stream
}

// Recorder is the notification entry point of a recording session. Each
// notification is persisted before it is decoded; notifications of different
// sensor classes are handled independently.
type Recorder struct {
	logger     *zap.Logger
	writer     SampleWriter
	sessionKey uint64
	start      time.Time
	since      func(time.Time) time.Duration

	classes map[SensorClass]*classState
	// unclassified serializes notifications of unknown characteristics.
	unclassified sync.Mutex
	crank        crankSelector

	updates *events.ChannelEvent[Update]

	errMu sync.Mutex
	err   error
	done  chan struct{}
}

// NewRecorder starts a session keyed by the current Unix time.
// wheelCircumference is in metres.
func NewRecorder(logger *zap.Logger, writer SampleWriter, wheelCircumference float64) *Recorder {
	if logger == nil {
		panic("Recorder: logger cannot be nil")
	}
	if writer == nil {
		panic("Recorder: writer cannot be nil")
	}
	if wheelCircumference <= 0 {
		panic("Recorder: wheel circumference must be > 0")
	}

	// time.Now carries a monotonic reading; time.Since uses it.
	start := time.Now()
	r := &Recorder{
		logger:     logger,
		writer:     writer,
		sessionKey: uint64(start.Unix()),
		start:      start,
		since:      time.Since,
		classes:    make(map[SensorClass]*classState, len(AllSensorClasses)),
		updates:    events.NewChannelEvent[Update](ReplayKey),
		done:       make(chan struct{}),
	}
	r.updates.OnDrop(metrics.DroppedUpdatesTotal.Inc)
	for _, class := range AllSensorClasses {
		stream, err := NewStream(class, wheelCircumference)
		if err != nil {
			panic(fmt.Sprintf("Recorder: %v", err))
		}
		r.classes[class] = &classState{stream: stream}
	}
	return r
}

// SessionKey is the Unix time in seconds at which the session started.
func (r *Recorder) SessionKey() uint64 {
	return r.sessionKey
}

// StartTime is the wall clock time the session started.
func (r *Recorder) StartTime() time.Time {
	return r.start
}

// ListenToUpdates registers ch for live updates. The latest update of every
// kind is replayed to ch first.
func (r *Recorder) ListenToUpdates(ch chan<- Update) func() {
	return r.updates.Listen(ch)
}

// Done is closed once the recorder stopped on a storage failure.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Err returns the storage failure that stopped the recorder, if any.
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Recorder) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Recorder) fail(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err != nil {
		return
	}
	r.err = err
	close(r.done)
	r.logger.Error("Recorder: storage failed, recording stopped", zap.Error(err))
}

// HandleNotification persists payload as a RawSample and publishes the
// updates derived from it. The payload is copied, so the caller may reuse
// its buffer. After a storage failure notifications are dropped.
func (r *Recorder) HandleNotification(id sensor.CharacteristicID, payload []byte) {
	metrics.NotificationsTotal.WithLabelValues(id.String()).Inc()
	if r.stopped() {
		return
	}

	class, known := ClassOf(id)
	var state *classState
	if known {
		state = r.classes[class]
		state.mu.Lock()
		defer state.mu.Unlock()
	} else {
		r.unclassified.Lock()
		defer r.unclassified.Unlock()
	}

	// elapsed is taken under the class lock so stored keys of one class are
	// in arrival order.
	sample := sensor.RawSample{
		Characteristic: id,
		Elapsed:        r.since(r.start),
		Payload:        append([]byte(nil), payload...),
	}
	if err := r.writer.Insert(r.sessionKey, sample); err != nil {
		r.fail(fmt.Errorf("insert %s at %v: %w", id, sample.Elapsed, err))
		return
	}

	if !known {
		r.logger.Warn("Recorder: stored notification for unknown characteristic",
			zap.Stringer("characteristic", id))
		return
	}

	m, err := sensor.Decode(id, sample.Payload)
	if err != nil {
		r.logger.Warn("Recorder: decode failed", zap.Stringer("characteristic", id), zap.Error(err))
		return
	}
	for _, u := range r.crank.filter(class, state.stream.OnSample(m)) {
		r.updates.Notify(u)
	}
}
