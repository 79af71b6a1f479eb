package sink

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/librescoot/fpv-bridge/pkg/metrics"
)

// record is the tagged envelope every line in the log is one of.
type record struct {
	Kind      string               `json:"kind"`
	At        time.Time            `json:"at"`
	Lifecycle *LifecycleRecord     `json:"lifecycle,omitempty"`
	Telemetry *TelemetryEnvelope   `json:"telemetry,omitempty"`
	Counters  *metrics.Snapshot    `json:"counters,omitempty"`
}

// JSONLSink appends newline-delimited JSON records to a file, rotating to
// a ".1" sibling once the file exceeds maxBytes. Writes happen on a single
// background goroutine draining a bounded channel; any caller that would
// otherwise block on a full channel drops the record and counts it
// instead, so a stalled disk never stalls the control path.
type JSONLSink struct {
	path     string
	maxBytes int64

	queue   chan record
	dropped atomic.Uint64

	mu   sync.Mutex
	file *os.File
	size int64

	stop chan struct{}
	done chan struct{}
}

func NewJSONLSink(path string, maxSizeMB int64, queueDepth int) (*JSONLSink, error) {
	s := &JSONLSink{
		path:     path,
		maxBytes: maxSizeMB * 1024 * 1024,
		queue:    make(chan record, queueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := s.openFile(); err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

func (s *JSONLSink) openFile() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening telemetry log %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}

func (s *JSONLSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			// Write whatever was queued before Close.
			for {
				select {
				case rec := <-s.queue:
					s.write(rec)
				default:
					return
				}
			}
		case rec := <-s.queue:
			s.write(rec)
		}
	}
}

func (s *JSONLSink) write(rec record) {
	b, err := json.Marshal(rec)
	if err != nil {
		log.Printf("sink: marshal telemetry record: %v", err)
		return
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size+int64(len(b)) > s.maxBytes && s.maxBytes > 0 {
		s.rotateLocked()
	}
	n, err := s.file.Write(b)
	if err != nil {
		log.Printf("sink: writing telemetry log: %v", err)
		return
	}
	s.size += int64(n)
}

func (s *JSONLSink) rotateLocked() {
	s.file.Close()
	rotated := s.path + ".1"
	os.Remove(rotated)
	os.Rename(s.path, rotated)
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("sink: reopening telemetry log after rotation: %v", err)
		return
	}
	s.file = f
	s.size = 0
}

func (s *JSONLSink) enqueue(rec record) {
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

func (s *JSONLSink) Telemetry(e TelemetryEnvelope) {
	s.enqueue(record{Kind: "telemetry", At: e.At, Telemetry: &e})
}

func (s *JSONLSink) Lifecycle(kind, detail string, at time.Time) {
	lr := LifecycleRecord{Kind: kind, Detail: detail, At: at}
	s.enqueue(record{Kind: "lifecycle", At: at, Lifecycle: &lr})
}

func (s *JSONLSink) Counters(snap metrics.Snapshot, at time.Time) {
	s.enqueue(record{Kind: "counters", At: at, Counters: &snap})
}

// Dropped reports how many records were discarded because the write queue
// was full.
func (s *JSONLSink) Dropped() uint64 { return s.dropped.Load() }

// Close stops the background writer and closes the underlying file.
func (s *JSONLSink) Close() error {
	close(s.stop)
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
