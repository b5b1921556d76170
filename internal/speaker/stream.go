package speaker

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ent0n29/anubis/internal/audio"
)

// maxStreamLag bounds how far live audio may fall behind before old audio is dropped.
const maxStreamLag = 500 * time.Millisecond

// Stream plays live 16-bit mono PCM written at sampleRate, such as remote room
// audio. Gaps play as silence. Closing the writer releases the player.
func (o *Output) Stream(sampleRate int) (io.WriteCloser, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream sample rate %d", sampleRate)
	}
	frameBytes := 2 * o.channels
	lag := int(maxStreamLag.Seconds()*float64(o.sampleRate)) * frameBytes
	r := &liveReader{frameBytes: frameBytes, maxBuffered: lag}
	p := o.newPlayer(r)
	p.Play()
	return &liveStream{out: o, rate: sampleRate, reader: r, player: p}, nil
}

type liveStream struct {
	out    *Output
	rate   int
	reader *liveReader
	player player

	once sync.Once
}

func (s *liveStream) Write(pcm []byte) (int, error) {
	if s.reader.isClosed() {
		return 0, io.ErrClosedPipe
	}
	converted := audio.PCM{
		Samples:    audio.BytesToSamples(pcm),
		SampleRate: s.rate,
		Channels:   1,
	}.Convert(s.out.sampleRate, s.out.channels)
	s.reader.push(converted.Bytes())
	return len(pcm), nil
}

func (s *liveStream) Close() error {
	var err error
	s.once.Do(func() {
		s.reader.close()
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}

// liveReader never blocks the player: it serves buffered audio in whole
// frames and pads with silence.
type liveReader struct {
	frameBytes  int
	maxBuffered int

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (r *liveReader) push(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, data...)
	if over := len(r.buf) - r.maxBuffered; r.maxBuffered > 0 && over > 0 {
		over += (r.frameBytes - over%r.frameBytes) % r.frameBytes
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

func (r *liveReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}
	limit := len(p) - len(p)%r.frameBytes
	n := copy(p[:limit], r.buf)
	n -= n % r.frameBytes
	r.buf = r.buf[n:]
	clear(p[n:limit])
	return limit, nil
}

func (r *liveReader) Seek(int64, int) (int64, error) {
	return 0, errors.New("live stream is not seekable")
}

func (r *liveReader) close() {
	r.mu.Lock()
	r.closed = true
	r.buf = nil
	r.mu.Unlock()
}

func (r *liveReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
