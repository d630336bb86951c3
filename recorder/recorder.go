package recorder

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/busline/bus"
	"github.com/adred-codev/busline/internal/workerpool"
	"github.com/adred-codev/busline/serialize"
	"github.com/rs/zerolog"
)

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "unknown"
	}
	return t.String()
}

func versionString(v serialize.Version) string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

const metaTimeFormat = "2006-01-02T15:04:05Z07:00"

// truncator is implemented by *os.File; rewriteMetadata uses it (when
// available) so the "updated at dispose" write replaces the sidecar's
// content instead of appending a second JSON document after it.
type truncator interface {
	Truncate(size int64) error
}

// rewriteMetadata writes md to sink from the start, truncating first
// when sink supports it.
func rewriteMetadata(sink io.Writer, md *Metadata) error {
	if seeker, ok := sink.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	if t, ok := sink.(truncator); ok {
		if err := t.Truncate(0); err != nil {
			return err
		}
	}
	return WriteMetadata(sink, md)
}

// RecordOptions configures a Recording. Zero value records without an
// index or metadata sidecar.
type RecordOptions struct {
	SaveInitialState   bool
	ConflationInterval time.Duration
	Metadata           *Metadata
	MetaSink           io.Writer // sidecar the metadata JSON is (re)written to; conventionally "<path>.meta.json"
	IndexFileName      string    // recorded into Metadata.IndexFile when Metadata is set; written out only if MetaSink is set too
	IndexSink          io.WriteSeeker
	IndexInterval      int // default 1000
	PipeCapacity       int // default 256
	Logger             zerolog.Logger
}

// RecordingStats tracks frames written and bytes written, exposed via
// Recording.Stats.
type RecordingStats struct {
	MessagesWritten int64
	BytesWritten    int64
}

func (s *RecordingStats) Snapshot() RecordingStats {
	return RecordingStats{
		MessagesWritten: atomic.LoadInt64(&s.MessagesWritten),
		BytesWritten:    atomic.LoadInt64(&s.BytesWritten),
	}
}

type frameJob struct {
	buf       *[]byte
	msgID     int64
	timestamp int64
}

// Recording owns the subscription feeding it and the background drain
// task writing frames to the sink. Dispose follows §4.6's sequence:
// stop the subscription, complete the pipe, drain remaining frames,
// finalise the index, release buffers.
type Recording[B any] struct {
	sub bus.Subscription

	pipe chan frameJob
	pool *workerpool.Pool
	done chan struct{}

	sink      io.Writer
	indexW    *IndexWriter
	interval  int64

	byteOffset    int64
	totalMessages int64

	stats RecordingStats

	meta      *Metadata
	metaSink  io.Writer
	firstTick int64
	lastTick  int64
	startedAt time.Time

	disposeOnce sync.Once
	writeErr    error
	writeErrMu  sync.Mutex

	logger zerolog.Logger
}

// Record subscribes to channelOrPattern and frames every delivered
// message into sink using ser. If opts.IndexSink is set, a sparse seek
// index is built alongside the recording.
func Record[B any](r *bus.Router, channelOrPattern string, sink io.Writer, ser serialize.Serializer[B], opts RecordOptions) (*Recording[B], error) {
	capacity := opts.PipeCapacity
	if capacity <= 0 {
		capacity = 256
	}
	interval := opts.IndexInterval
	if interval <= 0 {
		interval = defaultIndexInterval
	}

	rec := &Recording[B]{
		pipe:      make(chan frameJob, capacity),
		done:      make(chan struct{}),
		sink:      sink,
		interval:  int64(interval),
		logger:    opts.Logger,
		meta:      opts.Metadata,
		metaSink:  opts.MetaSink,
		startedAt: time.Now(),
	}

	if opts.IndexSink != nil {
		iw, err := NewIndexWriter(opts.IndexSink, int32(interval))
		if err != nil {
			return nil, err
		}
		rec.indexW = iw
	}

	if rec.meta != nil {
		rec.meta.Created = rec.startedAt.UTC().Format(metaTimeFormat)
		rec.meta.Channel = channelOrPattern
		rec.meta.SerializerType = typeName(ser)
		rec.meta.SerializerVersion = versionString(ser.Version())
		rec.meta.MessageType = typeName(*new(B))
		if opts.IndexFileName != "" {
			rec.meta.IndexFile = opts.IndexFileName
		}
		if rec.metaSink != nil {
			if err := rewriteMetadata(rec.metaSink, rec.meta); err != nil {
				rec.logger.Warn().Err(err).Msg("write initial metadata sidecar")
			}
		}
	}

	rec.pool = workerpool.New(1, 1, opts.Logger)
	rec.pool.Start(context.Background())
	rec.pool.Submit(func() { rec.drainLoop() })

	subOpts := bus.SubscribeOptions{
		Name:               "recorder:" + channelOrPattern,
		FetchState:         opts.SaveInitialState,
		Overflow:           bus.SkipUpdates,
		ConflationInterval: opts.ConflationInterval,
	}
	sub, err := bus.Subscribe[B](r, channelOrPattern, func(m bus.Msg[B]) error {
		return rec.handle(m, ser)
	}, subOpts)
	if err != nil {
		close(rec.pipe)
		return nil, err
	}
	rec.sub = sub

	return rec, nil
}

func (rec *Recording[B]) handle(m bus.Msg[B], ser serialize.Serializer[B]) error {
	buf, err := EncodeFrame(m, ser)
	if err != nil {
		rec.setErr(err)
		return err
	}
	atomic.CompareAndSwapInt64(&rec.firstTick, 0, m.Timestamp)
	atomic.StoreInt64(&rec.lastTick, m.Timestamp)
	rec.pipe <- frameJob{buf: buf, msgID: m.ID, timestamp: m.Timestamp}
	return nil
}

func (rec *Recording[B]) drainLoop() {
	defer close(rec.done)
	for job := range rec.pipe {
		startOffset := rec.byteOffset
		n, err := rec.sink.Write(*job.buf)
		if err != nil {
			rec.setErr(err)
		}
		rec.byteOffset += int64(n)
		rec.totalMessages++
		atomic.AddInt64(&rec.stats.MessagesWritten, 1)
		atomic.AddInt64(&rec.stats.BytesWritten, int64(n))

		if rec.indexW != nil && rec.totalMessages%rec.interval == 0 {
			if err := rec.indexW.WriteEntry(rec.totalMessages, startOffset, job.timestamp); err != nil {
				rec.setErr(err)
			}
		}
		ReleaseFrame(job.buf)
	}
}

func (rec *Recording[B]) setErr(err error) {
	rec.writeErrMu.Lock()
	if rec.writeErr == nil {
		rec.writeErr = err
	}
	rec.writeErrMu.Unlock()
}

// Err returns the first I/O or codec error observed while draining, if
// any.
func (rec *Recording[B]) Err() error {
	rec.writeErrMu.Lock()
	defer rec.writeErrMu.Unlock()
	return rec.writeErr
}

// Stats returns a snapshot of the recording's counters.
func (rec *Recording[B]) Stats() RecordingStats { return rec.stats.Snapshot() }

// UnderlyingSubscription exposes the subscription feeding the
// recording.
func (rec *Recording[B]) UnderlyingSubscription() bus.Subscription { return rec.sub }

// Dispose stops the subscription, completes the pipe, waits for the
// drain task to finish, and finalises the index. Idempotent.
func (rec *Recording[B]) Dispose() {
	rec.disposeOnce.Do(func() {
		rec.sub.Dispose()
		close(rec.pipe)
		<-rec.done
		if rec.indexW != nil {
			_ = rec.indexW.Finalize(rec.totalMessages)
		}
		if rec.meta != nil && rec.metaSink != nil {
			count := rec.totalMessages
			first := atomic.LoadInt64(&rec.firstTick)
			last := atomic.LoadInt64(&rec.lastTick)
			durationMs := time.Since(rec.startedAt).Milliseconds()
			rec.meta.MessageCount = &count
			if count > 0 {
				rec.meta.FirstMessageTicks = &first
				rec.meta.LastMessageTicks = &last
			}
			rec.meta.DurationMs = &durationMs
			if err := rewriteMetadata(rec.metaSink, rec.meta); err != nil {
				rec.logger.Warn().Err(err).Msg("write final metadata sidecar")
			}
		}
		rec.pool.Stop()
	})
}
