// Package slcan adapts a USB CAN dongle that speaks the ASCII SLCAN
// line protocol (Lawicel-style: "t", "T", "r", "R" frame commands over a
// plain serial port) to the isotp.Link collaborator contract. Grounded on
// other_examples' serial-capture tool (footgunz/mbpcap, main.go): same
// serial.Open/serial.Mode setup and the same background-goroutine +
// channel pattern for turning a blocking serial Read loop into
// asynchronous frame delivery.
package slcan

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/arcwave/isotp"
)

// Dispatcher is the subset of *isotp.Registry an Adapter needs.
type Dispatcher interface {
	Dispatch(channel string, f isotp.LinkFrame)
	DispatchTransmitComplete(channel string, id uint32)
}

// Adapter is an isotp.Link backed by an SLCAN-speaking serial port.
// SLCAN's ASCII encoding carries at most 8 data bytes per frame, so like
// the socketcan adapter this only supports MTUClassical sessions.
type Adapter struct {
	port       serial.Port
	channel    string
	dispatcher Dispatcher

	writeMu sync.Mutex
}

// Open configures portPath at baud (typically 115200 or 230400 for SLCAN
// dongles) and starts the background read loop.
func Open(portPath string, baud int, channel string, dispatcher Dispatcher) (*Adapter, error) {
	port, err := serial.Open(portPath, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("slcan: open serial port: %w", err)
	}
	a := &Adapter{port: port, channel: channel, dispatcher: dispatcher}
	go a.readLoop()
	return a, nil
}

// Close closes the underlying serial port, ending the read loop.
func (a *Adapter) Close() error {
	return a.port.Close()
}

// Enqueue implements isotp.Link by writing one SLCAN "t"/"T" frame
// command line to the serial port.
func (a *Adapter) Enqueue(f isotp.LinkFrame) bool {
	line := encodeFrame(f)

	a.writeMu.Lock()
	_, err := a.port.Write([]byte(line))
	a.writeMu.Unlock()
	if err != nil {
		return false
	}
	a.dispatcher.DispatchTransmitComplete(a.channel, f.ID)
	return true
}

// encodeFrame renders a LinkFrame as an SLCAN line: "tIIILDD...\r" for an
// 11-bit id, "TIIIIIIIILDD...\r" for a 29-bit one.
func encodeFrame(f isotp.LinkFrame) string {
	var b strings.Builder
	if f.ID > 0x7FF {
		fmt.Fprintf(&b, "T%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "t%03X", f.ID)
	}
	fmt.Fprintf(&b, "%X", len(f.Data))
	b.WriteString(strings.ToUpper(hex.EncodeToString(f.Data)))
	b.WriteByte('\r')
	return b.String()
}

func (a *Adapter) readLoop() {
	reader := bufio.NewReader(a.port)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		frame, ok := decodeFrame(strings.TrimSpace(line))
		if !ok {
			continue
		}
		a.dispatcher.Dispatch(a.channel, frame)
	}
}

// decodeFrame parses one SLCAN line into a LinkFrame. Only the standard
// ("t") and extended ("T") data-frame commands are recognized; remote
// frames ("r"/"R") and SLCAN control commands (bitrate, open/close) carry
// no ISO-TP payload and are ignored.
func decodeFrame(line string) (isotp.LinkFrame, bool) {
	if len(line) < 2 {
		return isotp.LinkFrame{}, false
	}

	var idLen int
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	default:
		return isotp.LinkFrame{}, false
	}
	if len(line) < 1+idLen+1 {
		return isotp.LinkFrame{}, false
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return isotp.LinkFrame{}, false
	}
	lengthDigit := line[1+idLen]
	length, err := strconv.ParseUint(string(lengthDigit), 16, 8)
	if err != nil {
		return isotp.LinkFrame{}, false
	}

	dataStart := 1 + idLen + 1
	dataHex := line[dataStart:]
	if len(dataHex) < int(length)*2 {
		return isotp.LinkFrame{}, false
	}
	data, err := hex.DecodeString(dataHex[:int(length)*2])
	if err != nil {
		return isotp.LinkFrame{}, false
	}

	return isotp.LinkFrame{ID: uint32(id), Data: data}, true
}
