package canframe

import "fmt"

// Frame represents a classic CAN frame as the bridge sees it.
// ID holds the bare 11/29-bit identifier; transport flag bits (EFF, RTR, ERR)
// are stripped by the adapter on receive and added back on send.
type Frame struct {
	ID     uint32
	Length uint8
	Data   [8]uint8
}

// Identifier masks and flags as used by SocketCAN.
const (
	SFFMask uint32 = 0x000007FF
	EFFMask uint32 = 0x1FFFFFFF
	EFFFlag uint32 = 0x80000000
	RTRFlag uint32 = 0x40000000
	ERRFlag uint32 = 0x20000000
)

// Payload returns the used part of Data.
func (f Frame) Payload() []byte {
	n := f.Length
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// Extended reports whether the identifier needs the 29-bit frame format.
func (f Frame) Extended() bool {
	return f.ID > SFFMask
}

func (f Frame) String() string {
	return fmt.Sprintf("ID=%08X Len=%d Data=% X", f.ID, f.Length, f.Payload())
}

// NewFrame copies payload into a Frame. Payloads longer than 8 bytes are
// truncated; classic CAN cannot carry more.
func NewFrame(id uint32, payload []byte) Frame {
	f := Frame{ID: id}
	f.Length = uint8(copy(f.Data[:], payload))
	return f
}
