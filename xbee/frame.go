package xbee

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ProtocolTable holds the API mode constants shared by the codec and the parser
type ProtocolTable struct {
	StartDelimiter byte // Start of every API frame
	LengthHigh     byte // MSB of the length field, always 0 for the frames handled here

	RemoteATRequestID        byte // API identifier of a remote AT command request
	RemoteATRequestLength    byte // Bytes between length field and checksum
	RemoteATRequestFrameSize int  // Whole frame on the wire

	BroadcastAddress        uint64
	BroadcastNetworkAddress uint16

	// In-band bytes escaped by the radio in API mode 2. Escaping has to be undone
	// before bytes reach the Parser.
	Escape byte
	XON    byte
	XOFF   byte
}

// Protocol is the process wide protocol table
var Protocol = ProtocolTable{
	StartDelimiter: 0x7e,
	LengthHigh:     0x00,

	RemoteATRequestID:        0x17,
	RemoteATRequestLength:    0x10,
	RemoteATRequestFrameSize: 20,

	BroadcastAddress:        0x000000000000ffff,
	BroadcastNetworkAddress: 0xfffe,

	Escape: 0x7d,
	XON:    0x11,
	XOFF:   0x13,
}

// CommandOptions is the bit field sent with a remote AT command
type CommandOptions byte

const (
	DisableRetries      CommandOptions = 0x01
	ApplyChanges        CommandOptions = 0x02
	EnableAPSEncryption CommandOptions = 0x20
	ExtendedTimeout     CommandOptions = 0x40
)

var optionNames = []struct {
	opt  CommandOptions
	name string
}{
	{DisableRetries, "disable_retries"},
	{ApplyChanges, "apply_changes"},
	{EnableAPSEncryption, "aps_encryption"},
	{ExtendedTimeout, "extended_timeout"},
}

func (o CommandOptions) String() string {
	var s []string
	rest := o
	for _, n := range optionNames {
		if o&n.opt != 0 {
			s = append(s, n.name)
			rest &^= n.opt
		}
	}
	if rest != 0 {
		s = append(s, fmt.Sprintf("0x%02x", byte(rest)))
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}

// Errors returned by the codec
var (
	ErrCommandName      = errors.New("AT command name must be exactly 2 bytes")
	ErrFrameSize        = errors.New("wrong frame size")
	ErrStartDelimiter   = errors.New("missing start delimiter")
	ErrLength           = errors.New("unexpected length field")
	ErrFrameType        = errors.New("not a remote AT command request")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// RemoteATCommandRequest is a remote AT command request frame (API identifier 0x17).
// Header, length and API identifier are constant and written on serialization.
type RemoteATCommandRequest struct {
	FrameID        byte // 0 means no response is expected
	Address        uint64
	NetworkAddress uint16
	Options        CommandOptions
	Command        [2]byte
	Parameter      byte
	Checksum       byte
}

// ComposeOption overrides a default of Compose
type ComposeOption func(*RemoteATCommandRequest)

// WithAddress sets the 64 bit destination address
func WithAddress(addr uint64) ComposeOption {
	return func(r *RemoteATCommandRequest) { r.Address = addr }
}

// WithNetworkAddress sets the 16 bit network address
func WithNetworkAddress(addr uint16) ComposeOption {
	return func(r *RemoteATCommandRequest) { r.NetworkAddress = addr }
}

// WithFrameID sets the frame id used to correlate a response
func WithFrameID(id byte) ComposeOption {
	return func(r *RemoteATCommandRequest) { r.FrameID = id }
}

// Compose builds a remote AT command request addressed to all devices unless overridden by opts.
func Compose(options CommandOptions, command string, parameter byte, opts ...ComposeOption) (RemoteATCommandRequest, error) {
	if len(command) != 2 {
		return RemoteATCommandRequest{}, fmt.Errorf("%w: got %q", ErrCommandName, command)
	}
	r := RemoteATCommandRequest{
		Address:        Protocol.BroadcastAddress,
		NetworkAddress: Protocol.BroadcastNetworkAddress,
		Options:        options,
		Parameter:      parameter,
	}
	copy(r.Command[:], command)
	for _, opt := range opts {
		opt(&r)
	}
	r.Checksum = Checksum(r.payload())
	return r, nil
}

// CommandName returns the AT command as string, e.g. "D0"
func (r RemoteATCommandRequest) CommandName() string {
	return string(r.Command[:])
}

// payload returns the bytes covered by the checksum, api identifier through parameter
func (r RemoteATCommandRequest) payload() []byte {
	b := make([]byte, Protocol.RemoteATRequestLength)
	b[0] = Protocol.RemoteATRequestID
	b[1] = r.FrameID
	binary.BigEndian.PutUint64(b[2:10], r.Address)
	binary.BigEndian.PutUint16(b[10:12], r.NetworkAddress)
	b[12] = byte(r.Options)
	b[13] = r.Command[0]
	b[14] = r.Command[1]
	b[15] = r.Parameter
	return b
}

// MarshalBinary returns the frame as written to the wire
func (r RemoteATCommandRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, Protocol.RemoteATRequestFrameSize)
	b = append(b, Protocol.StartDelimiter, Protocol.LengthHigh, Protocol.RemoteATRequestLength)
	b = append(b, r.payload()...)
	b = append(b, r.Checksum)
	return b, nil
}

// UnmarshalBinary reads a complete frame including start delimiter and checksum
func (r *RemoteATCommandRequest) UnmarshalBinary(b []byte) error {
	if len(b) != Protocol.RemoteATRequestFrameSize {
		return fmt.Errorf("%w: %v bytes, expected %v", ErrFrameSize, len(b), Protocol.RemoteATRequestFrameSize)
	}
	if b[0] != Protocol.StartDelimiter {
		return fmt.Errorf("%w: %#x", ErrStartDelimiter, b[0])
	}
	if b[1] != Protocol.LengthHigh || b[2] != Protocol.RemoteATRequestLength {
		return fmt.Errorf("%w: %# x", ErrLength, b[1:3])
	}
	p := b[3 : len(b)-1]
	if !VerifyChecksum(p, b[len(b)-1]) {
		return fmt.Errorf("%w: calculated %#x, received %#x", ErrChecksumMismatch, Checksum(p), b[len(b)-1])
	}
	d, err := DecodeRemoteATCommandPayload(p)
	if err != nil {
		return err
	}
	d.Checksum = b[len(b)-1]
	*r = d
	return nil
}

// DecodeRemoteATCommandPayload decodes a payload as emitted by the Parser, i.e. all bytes
// between length field and checksum. The checksum is recomputed.
func DecodeRemoteATCommandPayload(p []byte) (RemoteATCommandRequest, error) {
	var r RemoteATCommandRequest
	if len(p) != int(Protocol.RemoteATRequestLength) {
		return r, fmt.Errorf("%w: payload of %v bytes, expected %v", ErrFrameSize, len(p), Protocol.RemoteATRequestLength)
	}
	if p[0] != Protocol.RemoteATRequestID {
		return r, fmt.Errorf("%w: api identifier %#x", ErrFrameType, p[0])
	}
	r.FrameID = p[1]
	r.Address = binary.BigEndian.Uint64(p[2:10])
	r.NetworkAddress = binary.BigEndian.Uint16(p[10:12])
	r.Options = CommandOptions(p[12])
	r.Command = [2]byte{p[13], p[14]}
	r.Parameter = p[15]
	r.Checksum = Checksum(p)
	return r, nil
}

// Checksum computes 0xff minus the 8 bit sum of b
func Checksum(b []byte) byte {
	return 0xff - sum8(b)
}

// VerifyChecksum reports whether checksum completes the 8 bit sum of b to 0xff
func VerifyChecksum(b []byte, checksum byte) bool {
	return sum8(b)+checksum == 0xff
}

func sum8(b []byte) byte {
	s := byte(0)
	for i := 0; i < len(b); i++ {
		s += b[i]
	}
	return s
}
