package xbee

import "fmt"

// ParserPhase is a state of the Parser state machine
type ParserPhase byte

const (
	SeekHeader       ParserPhase = iota // Scan for the start delimiter
	ExpectLengthHigh                    // Length MSB, must be 0x00
	ReadLengthLow                       // Length LSB, number of payload bytes
	Collect                             // Payload bytes, then one checksum byte
)

var phaseNames = [...]string{"SeekHeader", "ExpectLengthHigh", "ReadLengthLow", "Collect"}

func (p ParserPhase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("ParserPhase(%d)", byte(p))
}

// DropReason tells why a frame candidate was abandoned
type DropReason byte

const (
	DropLengthHigh DropReason = iota + 1 // start delimiter followed by a non zero length MSB
	DropChecksum                         // complete frame with a bad checksum
)

func (r DropReason) String() string {
	switch r {
	case DropLengthHigh:
		return "length_high"
	case DropChecksum:
		return "checksum"
	}
	return fmt.Sprintf("DropReason(%d)", byte(r))
}

// Observer receives parser diagnostics. Implementations must not block.
type Observer interface {
	FrameAccepted(payloadLen int)
	FrameDropped(reason DropReason)
	BytesDiscarded(n int)
}

type nopObserver struct{}

func (nopObserver) FrameAccepted(int)       {}
func (nopObserver) FrameDropped(DropReason) {}
func (nopObserver) BytesDiscarded(int)      {}

// Parser reassembles API frames from a byte stream delivered in arbitrary chunks.
// A Parser is not safe for concurrent use, feed it from a single goroutine in the
// order the bytes were received.
type Parser struct {
	phase     ParserPhase
	remaining int
	sum       byte
	payload   []byte

	obs Observer
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithObserver attaches an Observer to the Parser
func WithObserver(o Observer) ParserOption {
	return func(p *Parser) {
		if o != nil {
			p.obs = o
		}
	}
}

// NewParser returns a Parser waiting for a start delimiter
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{obs: nopObserver{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Phase returns the current state
func (p *Parser) Phase() ParserPhase {
	return p.phase
}

// Reset drops a partially received frame
func (p *Parser) Reset() {
	p.phase = SeekHeader
	p.remaining = 0
	p.sum = 0
	p.payload = nil
}

// Feed consumes b and returns the payloads of all frames completed by it, in order.
// A payload covers the bytes between length field and checksum.
// Corrupt frames are dropped and scanning resumes at the next start delimiter.
func (p *Parser) Feed(b []byte) [][]byte {
	var frames [][]byte
	discarded := 0

	for _, c := range b {
		switch p.phase {
		case SeekHeader:
			if c == Protocol.StartDelimiter {
				p.phase = ExpectLengthHigh
			} else {
				discarded++
			}
		case ExpectLengthHigh:
			if c == Protocol.LengthHigh {
				p.phase = ReadLengthLow
			} else {
				p.obs.FrameDropped(DropLengthHigh)
				p.phase = SeekHeader
			}
		case ReadLengthLow:
			p.remaining = int(c)
			p.sum = 0
			p.payload = make([]byte, 0, p.remaining)
			p.phase = Collect
		case Collect:
			if p.remaining > 0 {
				p.payload = append(p.payload, c)
				p.sum += c
				p.remaining--
				break
			}
			// c is the checksum byte
			if p.sum+c == 0xff {
				frames = append(frames, p.payload)
				p.obs.FrameAccepted(len(p.payload))
			} else {
				p.obs.FrameDropped(DropChecksum)
			}
			p.Reset()
		default:
			panic(fmt.Sprintf("xbee: parser in invalid phase %v", p.phase))
		}
	}

	if discarded > 0 {
		p.obs.BytesDiscarded(discarded)
	}
	return frames
}
