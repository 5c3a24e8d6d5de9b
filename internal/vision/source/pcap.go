package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// PCAPSource replays detection datagrams captured off the wire. Only UDP
// packets to Port are considered (0 accepts any port). Frames without a
// "ts" field take the packet capture time.
type PCAPSource struct {
	Port int

	file    fs.File
	packets *gopacket.PacketSource

	Packets int // UDP packets matching Port
	Dropped int // matching packets that failed to decode
}

// OpenPCAP opens a classic pcap file on fsys (nil means the OS file system).
func OpenPCAP(fsys fsutil.FileSystem, path string, port int) (*PCAPSource, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file: %w", err)
	}
	s, err := NewPCAPSource(f, port)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewPCAPSource reads a pcap stream from r.
func NewPCAPSource(r io.Reader, port int) (*PCAPSource, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	ps := gopacket.NewPacketSource(reader, reader.LinkType())
	ps.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return &PCAPSource{Port: port, packets: ps}, nil
}

// Next returns the next frame in capture order.
func (s *PCAPSource) Next(ctx context.Context) (detect.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return detect.Frame{}, err
		}
		packet, err := s.packets.NextPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("PCAP replay finished: %d packets, %d dropped", s.Packets, s.Dropped)
				return detect.Frame{}, io.EOF
			}
			return detect.Frame{}, fmt.Errorf("failed to read packet: %w", err)
		}
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if s.Port != 0 && int(udp.DstPort) != s.Port {
			continue
		}
		s.Packets++
		frame, err := decodeFrame(udp.Payload, packet.Metadata().Timestamp)
		if err != nil {
			s.Dropped++
			log.Printf("PCAP: dropping packet %d: %v", s.Packets, err)
			continue
		}
		return frame, nil
	}
}

// Close closes the file opened by OpenPCAP.
func (s *PCAPSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
