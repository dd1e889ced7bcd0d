package xbee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an Observer keeping what it was told
type recorder struct {
	accepted  []int
	dropped   []DropReason
	discarded int
}

func (r *recorder) FrameAccepted(n int)            { r.accepted = append(r.accepted, n) }
func (r *recorder) FrameDropped(reason DropReason) { r.dropped = append(r.dropped, reason) }
func (r *recorder) BytesDiscarded(n int)           { r.discarded += n }

func d0HighPayload() []byte {
	return append([]byte{}, d0HighFrame[3:19]...)
}

func TestParserRoundTrip(t *testing.T) {
	r, err := Compose(ApplyChanges, "D0", byte(DigitalHigh))
	require.NoError(t, err)
	b, err := r.MarshalBinary()
	require.NoError(t, err)

	p := NewParser()
	frames := p.Feed(b)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 16)
	assert.Equal(t, d0HighPayload(), frames[0])
	assert.Equal(t, []byte{0x02, 'D', '0', 0x05}, frames[0][12:])
	assert.Equal(t, SeekHeader, p.Phase())

	decoded, err := DecodeRemoteATCommandPayload(frames[0])
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestParserPhases(t *testing.T) {
	p := NewParser()
	assert.Equal(t, SeekHeader, p.Phase())
	p.Feed([]byte{0x7e})
	assert.Equal(t, ExpectLengthHigh, p.Phase())
	p.Feed([]byte{0x00})
	assert.Equal(t, ReadLengthLow, p.Phase())
	p.Feed([]byte{0x02})
	assert.Equal(t, Collect, p.Phase())
	p.Feed([]byte{0x01, 0x02})
	assert.Equal(t, Collect, p.Phase())
	frames := p.Feed([]byte{0xfc})
	assert.Equal(t, [][]byte{{0x01, 0x02}}, frames)
	assert.Equal(t, SeekHeader, p.Phase())
}

func TestParserFragmentation(t *testing.T) {
	want := d0HighPayload()

	for i := 1; i < len(d0HighFrame); i++ {
		for j := i + 1; j <= len(d0HighFrame); j++ {
			p := NewParser()
			var frames [][]byte
			for _, chunk := range [][]byte{d0HighFrame[:i], d0HighFrame[i:j], d0HighFrame[j:]} {
				if len(chunk) == 0 {
					continue
				}
				frames = append(frames, p.Feed(chunk)...)
			}
			require.Len(t, frames, 1, "split at %d,%d", i, j)
			assert.Equal(t, want, frames[0])
		}
	}

	p := NewParser()
	var frames [][]byte
	for _, c := range d0HighFrame {
		frames = append(frames, p.Feed([]byte{c})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, want, frames[0])
}

func TestParserCorruptPayload(t *testing.T) {
	for i := 3; i < 19; i++ {
		corrupt := append([]byte{}, d0HighFrame...)
		corrupt[i] ^= 0x01

		rec := &recorder{}
		p := NewParser(WithObserver(rec))
		assert.Empty(t, p.Feed(corrupt), "flipped byte %d", i)
		assert.Equal(t, SeekHeader, p.Phase())
		assert.Equal(t, []DropReason{DropChecksum}, rec.dropped)

		frames := p.Feed(d0HighFrame)
		require.Len(t, frames, 1, "flipped byte %d", i)
		assert.Equal(t, d0HighPayload(), frames[0])
	}
}

func TestParserResync(t *testing.T) {
	rec := &recorder{}
	p := NewParser(WithObserver(rec))

	assert.Empty(t, p.Feed([]byte{0x7e, 0x01}))
	assert.Equal(t, SeekHeader, p.Phase())
	assert.Equal(t, []DropReason{DropLengthHigh}, rec.dropped)

	in := append([]byte{0x13, 0x37, 0x7e, 0x10}, d0HighFrame...)
	frames := p.Feed(in)
	require.Len(t, frames, 1)
	assert.Equal(t, d0HighPayload(), frames[0])
	assert.Equal(t, 2, rec.discarded)
	assert.Equal(t, []int{16}, rec.accepted)
}

func TestParserStartDelimiterInPayload(t *testing.T) {
	payload := []byte{0x7e, 0x7e, 0x00, 0x7e}
	in := append([]byte{0x7e, 0x00, byte(len(payload))}, payload...)
	in = append(in, Checksum(payload))

	frames := NewParser().Feed(in)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestParserEmptyPayload(t *testing.T) {
	p := NewParser()
	frames := p.Feed([]byte{0x7e, 0x00, 0x00, 0xff})
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0])

	assert.Empty(t, p.Feed([]byte{0x7e, 0x00, 0x00, 0x00}))
	assert.Equal(t, SeekHeader, p.Phase())
}

func TestParserMultipleFrames(t *testing.T) {
	r, err := Compose(ApplyChanges, "D1", byte(DigitalLow), WithFrameID(7))
	require.NoError(t, err)
	second, _ := r.MarshalBinary()

	in := append(append([]byte{0x00}, d0HighFrame...), second...)
	frames := NewParser().Feed(in)
	require.Len(t, frames, 2)
	assert.Equal(t, d0HighPayload(), frames[0])
	assert.Equal(t, second[3:19], frames[1])
}

func TestParserResetIdempotence(t *testing.T) {
	p := NewParser()
	p.Feed(d0HighFrame[:10])
	p.Reset()
	assert.Equal(t, NewParser(), p)

	p.Feed(d0HighFrame)
	assert.Equal(t, NewParser(), p)

	corrupt := append([]byte{}, d0HighFrame...)
	corrupt[19]++
	p.Feed(corrupt)
	assert.Equal(t, NewParser(), p)

	frames := p.Feed(d0HighFrame)
	assert.Len(t, frames, 1)
}

func TestParserPhaseString(t *testing.T) {
	assert.Equal(t, "Collect", Collect.String())
	assert.Equal(t, "ParserPhase(9)", ParserPhase(9).String())
	assert.Equal(t, "checksum", DropChecksum.String())
}
