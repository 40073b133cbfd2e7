package serialmux

import (
	"io"
	"strings"
	"sync"
)

// PipePort is an in-memory SerialPorter. Lines written to the device side are
// read by the mux; commands the mux sends are recorded for inspection. It backs
// the simulated robot and the tests.
type PipePort struct {
	reader *io.PipeReader
	device *io.PipeWriter

	mu       sync.Mutex
	commands []string
	partial  strings.Builder
	closed   bool
}

// NewPipePort creates a connected PipePort.
func NewPipePort() *PipePort {
	r, w := io.Pipe()
	return &PipePort{reader: r, device: w}
}

// NewPipeSerialMux creates a SerialMux over a fresh PipePort and returns both.
func NewPipeSerialMux() (*SerialMux[*PipePort], *PipePort) {
	port := NewPipePort()
	return NewSerialMux(port), port
}

func (p *PipePort) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

// Write records host-to-device bytes, split into newline-terminated commands.
func (p *PipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	for _, c := range string(b) {
		if c == '\n' {
			p.commands = append(p.commands, p.partial.String())
			p.partial.Reset()
			continue
		}
		p.partial.WriteRune(c)
	}
	return len(b), nil
}

// Close closes both ends of the pipe.
func (p *PipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.device.Close()
	return p.reader.Close()
}

// WriteLine writes one device-to-host line, appending the newline.
func (p *PipePort) WriteLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(p.device, line)
	return err
}

// Hangup closes the device side so the host sees EOF.
func (p *PipePort) Hangup() error {
	return p.device.Close()
}

// Commands returns the commands received so far.
func (p *PipePort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.commands))
	copy(out, p.commands)
	return out
}
