package sink

import (
	"encoding/json"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/librescoot/fpv-bridge/pkg/metrics"
)

// Publisher is the subset of *redis.Client a sink needs: writing the
// latest snapshot into a hash and publishing a change notification, the
// same WriteAndPublish pattern the fleet's other daemons use for state
// fan-out.
type Publisher interface {
	WriteAndPublishString(key, field, value string) error
	Publish(channel string, message string) error
}

// RedisSink mirrors the bridge's lifecycle and counters onto Redis so a
// dashboard or another service can watch them without tailing the JSONL
// log. Telemetry is deliberately not mirrored here — at 250Hz it would
// flood the hash/pubsub path the fleet's other consumers share; it only
// goes to the JSONL sink.
type RedisSink struct {
	pub         Publisher
	stateKey    string
	lifecycleCh string

	queue   chan func()
	dropped atomic.Uint64
	stop    chan struct{}
	done    chan struct{}
}

func NewRedisSink(pub Publisher, stateKey, lifecycleChannel string, queueDepth int) *RedisSink {
	s := &RedisSink{
		pub:         pub,
		stateKey:    stateKey,
		lifecycleCh: lifecycleChannel,
		queue:       make(chan func(), queueDepth),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RedisSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case job := <-s.queue:
			job()
		}
	}
}

func (s *RedisSink) enqueue(job func()) {
	select {
	case s.queue <- job:
	default:
		s.dropped.Add(1)
	}
}

func (s *RedisSink) Telemetry(TelemetryEnvelope) {}

func (s *RedisSink) Lifecycle(kind, detail string, at time.Time) {
	s.enqueue(func() {
		lr := LifecycleRecord{Kind: kind, Detail: detail, At: at}
		b, err := json.Marshal(lr)
		if err != nil {
			return
		}
		if err := s.pub.Publish(s.lifecycleCh, string(b)); err != nil {
			log.Printf("sink: publishing lifecycle event: %v", err)
		}
	})
}

func (s *RedisSink) Counters(snap metrics.Snapshot, at time.Time) {
	s.enqueue(func() {
		fields := map[string]uint64{
			"tx_frames":         snap.TxFrames,
			"tx_coalesced":      snap.TxCoalesced,
			"tx_errors":         snap.TxErrors,
			"rx_bytes":          snap.RxBytes,
			"rx_frames":         snap.RxFrames,
			"rx_crc_errors":     snap.RxCRCErrors,
			"rx_resyncs":        snap.RxResyncs,
			"telemetry_dropped": snap.TelemetryDropped,
		}
		for field, v := range fields {
			if err := s.pub.WriteAndPublishString(s.stateKey, field, strconv.FormatUint(v, 10)); err != nil {
				log.Printf("sink: writing counter %s: %v", field, err)
			}
		}
	})
}

func (s *RedisSink) Dropped() uint64 { return s.dropped.Load() }

func (s *RedisSink) Close() {
	close(s.stop)
	<-s.done
}
