package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// maxDatagram bounds one JSON frame on the wire.
const maxDatagram = 64 * 1024

// UDPSource receives one wire frame per datagram.
type UDPSource struct {
	conn    *net.UDPConn
	buf     []byte
	Dropped int // undecodable datagrams
}

// ListenUDP binds address (host:port, port 0 picks one). rcvBuf sets the
// socket receive buffer when positive.
func ListenUDP(address string, rcvBuf int) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if rcvBuf > 0 {
		if err := conn.SetReadBuffer(rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", rcvBuf, err)
		}
	}
	log.Printf("UDP detection source listening on %s", conn.LocalAddr())
	return &UDPSource{conn: conn, buf: make([]byte, maxDatagram)}, nil
}

// Addr returns the bound local address.
func (s *UDPSource) Addr() net.Addr { return s.conn.LocalAddr() }

// Next blocks for the next decodable datagram. The read deadline is short
// so cancellation is noticed promptly.
func (s *UDPSource) Next(ctx context.Context) (detect.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return detect.Frame{}, err
		}
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return detect.Frame{}, ctx.Err()
			}
			return detect.Frame{}, fmt.Errorf("UDP read failed: %w", err)
		}
		frame, err := DecodeFrame(s.buf[:n])
		if err != nil {
			s.Dropped++
			log.Printf("Error decoding datagram from %v: %v", addr, err)
			continue
		}
		return frame, nil
	}
}

// Close closes the socket.
func (s *UDPSource) Close() error { return s.conn.Close() }
