package ota

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

// DefaultChunkSize is the read and write unit of a download.
const DefaultChunkSize = 1024

// Options configures a Pipeline.
type Options struct {
	// ChunkSize is the maximum number of bytes read and written at once.
	ChunkSize int
	// RetryInterval is the delay between failed stream opens.
	RetryInterval time.Duration
	// MaxAttempts bounds stream opens. Zero retries until the context ends.
	MaxAttempts uint64
	// ExpectedDigest, when set, is the hex blake3-256 the image must match.
	ExpectedDigest string
	// OnProgress is called after each state change and written chunk.
	OnProgress func(Progress)
	// OnFinish is called once per session with its final snapshot.
	OnFinish func(Session, error)
}

// DefaultOptions returns sensible defaults for a Pipeline.
func DefaultOptions() *Options {
	return &Options{
		ChunkSize:     DefaultChunkSize,
		RetryInterval: time.Second,
	}
}

// Pipeline performs firmware updates.
type Pipeline struct {
	transport  Transport
	partitions PartitionTable
	opts       Options
	gate       *Gate
	now        func() time.Time
}

// NewPipeline creates a pipeline. A nil opts uses DefaultOptions.
func NewPipeline(transport Transport, partitions PartitionTable, opts *Options) (*Pipeline, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.RetryInterval < 0 {
		return nil, fmt.Errorf("retry interval must not be negative, got %v", opts.RetryInterval)
	}
	if opts.ExpectedDigest != "" {
		d, err := hex.DecodeString(opts.ExpectedDigest)
		if err != nil || len(d) != len(Digest{}) {
			return nil, fmt.Errorf("expected digest must be %d hex bytes", len(Digest{}))
		}
	}
	return &Pipeline{
		transport:  transport,
		partitions: partitions,
		opts:       *opts,
		gate:       NewGate(),
		now:        time.Now,
	}, nil
}

// Gate returns the gate guarding this pipeline.
func (p *Pipeline) Gate() *Gate {
	return p.gate
}

// session carries the mutable state of one PerformUpdate call.
type session struct {
	Session
	p *Pipeline
}

func (s *session) setState(to State) {
	from := s.State
	if from == to {
		return
	}
	s.State = to
	switch {
	case from == StateDownloading && to == StateWriting, from == StateWriting && to == StateDownloading:
		// Per-chunk transitions are too frequent for info level.
	default:
		logging.LogStateChange("ota", from, to,
			zap.Stringer("session", s.ID),
			zap.Uint64("written", s.Written))
	}
	s.report()
}

func (s *session) report() {
	s.p.gate.update(s.Session)
	if s.p.opts.OnProgress != nil {
		s.p.opts.OnProgress(Progress{Session: s.Session})
	}
}

func (s *session) fail(err *Error) (uint64, error) {
	err.Written = s.Written
	logging.Error("OTA session failed",
		zap.Stringer("session", s.ID),
		zap.Stringer("state", s.State),
		zap.Uint64("written", s.Written),
		zap.Error(err))
	s.setState(StateFailed)
	return s.Written, err
}

// PerformUpdate downloads url into the next update slot and selects it for
// boot. It returns the number of bytes written to the partition.
//
// ctx is honoured while connecting only.
func (p *Pipeline) PerformUpdate(ctx context.Context, url string) (written uint64, err error) {
	s := &session{
		Session: Session{
			ID:        uuid.New(),
			URL:       url,
			State:     StateIdle,
			StartedAt: p.now(),
		},
		p: p,
	}
	if !p.gate.acquire(s.Session) {
		if p.gate.Sealed() {
			e := newError(ErrTypeBusy, "restart pending, no further sessions", nil)
			e.Retryable = false
			return 0, e
		}
		cur, _ := p.gate.Current()
		return 0, newError(ErrTypeBusy,
			fmt.Sprintf("session %s is %s", cur.ID, cur.State), nil)
	}
	defer func() {
		if p.opts.OnFinish != nil {
			p.opts.OnFinish(s.Session, err)
		}
		p.gate.release()
	}()

	logging.Info("OTA session started",
		zap.Stringer("session", s.ID),
		zap.String("url", url))

	running, perr := p.partitions.Running()
	if perr != nil {
		return s.fail(newError(ErrTypePartition, "cannot read running slot", perr))
	}
	target, perr := p.partitions.NextUpdate()
	if perr != nil {
		return s.fail(newError(ErrTypePartition, "no update slot available", perr))
	}
	s.Target = target
	logging.Info("OTA target selected",
		zap.Stringer("session", s.ID),
		zap.Stringer("running", running),
		zap.Stringer("target", target))

	s.setState(StateConnecting)
	stream, oerr := p.connect(ctx, url)
	if oerr != nil {
		return s.fail(oerr)
	}
	defer stream.Close()

	total := stream.DeclaredLength()
	if total <= 0 {
		p.logInvalidBody(stream)
		return s.fail(newError(ErrTypeInvalidLength,
			fmt.Sprintf("declared length %d", total), nil))
	}
	s.Expected = uint64(total)

	w, perr := p.partitions.Begin(target)
	if perr != nil {
		return s.fail(newError(ErrTypePartition, "cannot begin writing "+target.String(), perr))
	}

	s.setState(StateDownloading)
	if derr := p.download(s, stream, w); derr != nil {
		if aerr := w.Abort(); aerr != nil {
			logging.Warn("Failed to discard partial image", zap.Error(aerr))
		}
		return s.fail(derr)
	}

	s.setState(StateVerifying)
	img, perr := w.End()
	if perr != nil {
		return s.fail(newError(ErrTypeVerify, "image rejected by partition", perr))
	}
	if img.Size != s.Expected {
		return s.fail(newError(ErrTypeVerify,
			fmt.Sprintf("partition holds %d bytes, expected %d", img.Size, s.Expected), nil))
	}
	if p.opts.ExpectedDigest != "" {
		want, _ := hex.DecodeString(p.opts.ExpectedDigest)
		if !bytes.Equal(want, img.Digest[:]) {
			return s.fail(newError(ErrTypeVerify,
				fmt.Sprintf("digest %s does not match %s", img.Digest, p.opts.ExpectedDigest), nil))
		}
	}

	if perr := p.partitions.SetBoot(img); perr != nil {
		return s.fail(newError(ErrTypePartition, "cannot select "+target.String()+" for boot", perr))
	}

	s.setState(StateCommitted)
	logging.Info("OTA session committed",
		zap.Stringer("session", s.ID),
		zap.Uint64("written", s.Written),
		zap.Stringer("digest", img.Digest),
		zap.Duration("elapsed", p.now().Sub(s.StartedAt)))
	return s.Written, nil
}

// connect opens the stream, retrying at a constant interval.
func (p *Pipeline) connect(ctx context.Context, url string) (Stream, *Error) {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.opts.RetryInterval)
	if p.opts.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.opts.MaxAttempts-1)
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	stream, err := backoff.RetryNotifyWithData[Stream](func() (Stream, error) {
		attempt++
		return p.transport.Open(ctx, url)
	}, b, func(err error, next time.Duration) {
		logging.Warn("OTA stream open failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
	if err == nil {
		return stream, nil
	}
	if ctx.Err() != nil {
		return nil, newError(ErrTypeCancelled, "stopped while connecting", ctx.Err())
	}
	return nil, newError(ErrTypeTransportOpen,
		fmt.Sprintf("gave up after %d attempts", attempt), err)
}

func (p *Pipeline) logInvalidBody(stream Stream) {
	buf := make([]byte, p.opts.ChunkSize)
	n, _ := io.ReadAtLeast(stream, buf, 1)
	if n > 0 {
		logging.LogRawBytes("OTA response body", buf[:n])
	}
}

// download copies exactly the declared length from stream into w.
func (p *Pipeline) download(s *session, stream Stream, w Writer) *Error {
	buf := make([]byte, p.opts.ChunkSize)
	for s.Written < s.Expected {
		want := uint64(len(buf))
		if remaining := s.Expected - s.Written; remaining < want {
			want = remaining
		}

		n, rerr := stream.Read(buf[:want])
		if n > 0 {
			s.setState(StateWriting)
			wn, werr := w.Write(buf[:n])
			s.Written += uint64(wn)
			if werr == nil && wn != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return newError(ErrTypeFlashWrite,
					fmt.Sprintf("write at offset %d", s.Written), werr)
			}
			logging.Debug("OTA chunk written",
				zap.Int("bytes", n),
				zap.Uint64("written", s.Written),
				zap.Uint64("expected", s.Expected))
			s.setState(StateDownloading)
		}

		switch {
		case rerr == nil && n == 0:
			return newError(ErrTypeStreamRead, "stream returned no data", nil)
		case errors.Is(rerr, io.EOF):
			if s.Written < s.Expected {
				return newError(ErrTypeStreamRead,
					fmt.Sprintf("stream ended at %d of %d bytes", s.Written, s.Expected), io.ErrUnexpectedEOF)
			}
		case rerr != nil:
			return newError(ErrTypeStreamRead,
				fmt.Sprintf("read failed at %d of %d bytes", s.Written, s.Expected), rerr)
		}
	}
	return nil
}
