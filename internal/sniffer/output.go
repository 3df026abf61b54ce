package sniffer

import (
	"bufio"
	"fmt"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Output spools every observed frame into a classic pcap file. Writes
// land in a buffer first; Close flushes whatever has been appended.
// That is also the shutdown contract: buffered packets survive an
// interrupt, undelivered ones do not.
type Output struct {
	file *os.File
	buf  *bufio.Writer
	pcap *pcapgo.Writer
}

// NewOutput creates (or truncates) path and writes the file header.
func NewOutput(path string, linkType layers.LinkType) (*Output, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sniffer: create %s: %w", path, err)
	}

	buf := bufio.NewWriter(file)
	writer := pcapgo.NewWriter(buf)
	if err := writer.WriteFileHeader(snaplen, linkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("sniffer: write header to %s: %w", path, err)
	}

	return &Output{file: file, buf: buf, pcap: writer}, nil
}

// Append spools one captured frame.
func (o *Output) Append(c Captured) error {
	if err := o.pcap.WritePacket(c.Info, c.Data); err != nil {
		return fmt.Errorf("sniffer: write packet to %s: %w", o.file.Name(), err)
	}
	return nil
}

// Close flushes the spool and closes the file.
func (o *Output) Close() error {
	if err := o.buf.Flush(); err != nil {
		o.file.Close()
		return fmt.Errorf("sniffer: flush %s: %w", o.file.Name(), err)
	}
	if err := o.file.Close(); err != nil {
		return fmt.Errorf("sniffer: close %s: %w", o.file.Name(), err)
	}
	return nil
}
