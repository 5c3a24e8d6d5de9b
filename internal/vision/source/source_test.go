package source

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/serialmux"
	"github.com/banshee-data/speedwatch/internal/timeutil"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

const sampleLine = `{"seq":7,"ts":"2026-03-14T09:30:00.5Z","width":640,"height":480,` +
	`"detections":[{"x":10,"y":20,"w":80,"h":40,"class":"car","confidence":0.9}]}`

func TestDecodeFrame(t *testing.T) {
	t.Parallel()
	f, err := DecodeFrame([]byte(sampleLine))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Seq)
	assert.True(t, f.Timestamp.Equal(t0.Add(500*time.Millisecond)))
	assert.Equal(t, 640, f.Width)
	require.Len(t, f.Detections, 1)
	assert.Equal(t, detect.BBox{X: 10, Y: 20, Width: 80, Height: 40}, f.Detections[0].BBox)
	assert.Equal(t, "car", f.Detections[0].Class)
}

func TestDecodeFrameUnixSeconds(t *testing.T) {
	t.Parallel()
	f, err := DecodeFrame([]byte(`{"seq":1,"ts":1773480600.25,"width":10,"height":10,"detections":[]}`))
	require.NoError(t, err)
	assert.True(t, f.Timestamp.Equal(time.Unix(1773480600, 250_000_000)), f.Timestamp)
	assert.Empty(t, f.Detections)
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"missing ts", `{"seq":1,"width":1,"height":1}`},
		{"null ts", `{"seq":1,"ts":null}`},
		{"bad ts string", `{"seq":1,"ts":"yesterday"}`},
		{"negative size", `{"seq":1,"ts":1,"width":-1,"height":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeFrame([]byte(tt.in))
			assert.Error(t, err)
		})
	}
	_, err := DecodeFrame([]byte(`{"seq":1}`))
	assert.ErrorIs(t, err, ErrMissingTimestamp)
}

func TestEncodeDecodeFrame(t *testing.T) {
	t.Parallel()
	in := detect.Frame{
		Seq: 3, Timestamp: t0, Width: 320, Height: 240,
		Detections: []detect.Detection{{BBox: detect.BBox{X: 1, Y: 2, Width: 3, Height: 4}, Class: "bus", Confidence: 0.7}},
	}
	b, err := EncodeFrame(in)
	require.NoError(t, err)
	out, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.True(t, out.Timestamp.Equal(in.Timestamp))
	out.Timestamp = in.Timestamp
	assert.Equal(t, in, out)
}

func replayFile(t *testing.T, offsets ...time.Duration) string {
	t.Helper()
	var sb strings.Builder
	for i, off := range offsets {
		b, err := EncodeFrame(detect.Frame{Seq: uint64(i + 1), Timestamp: t0.Add(off), Width: 640, Height: 480})
		require.NoError(t, err)
		sb.Write(b)
		sb.WriteString("\n")
		if i == 0 {
			sb.WriteString("\nnot a frame\n")
		}
	}
	return sb.String()
}

func drain(t *testing.T, src Source) []detect.Frame {
	t.Helper()
	var out []detect.Frame
	for {
		f, err := src.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestReplaySource(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/data/run.jsonl", []byte(replayFile(t, 0, 100*time.Millisecond, 300*time.Millisecond)), 0o644))

	clock := timeutil.NewMockClock(t0)
	src, err := OpenReplay(fsys, "/data/run.jsonl", clock)
	require.NoError(t, err)
	defer src.Close()

	frames := drain(t, src)
	require.Len(t, frames, 3, "blank and malformed lines are skipped")
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{frames[0].Seq, frames[1].Seq, frames[2].Seq})
	assert.Empty(t, clock.Waits(), "unpaced replay never waits")
}

func TestReplaySourcePaced(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		speed float64
		want  []time.Duration
	}{
		{speed: 0, want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}},
		{speed: 2, want: []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}},
	} {
		clock := timeutil.NewMockClock(t0)
		src := NewReplaySource(strings.NewReader(replayFile(t, 0, 100*time.Millisecond, 300*time.Millisecond)), clock.AutoAdvance())
		src.Paced = true
		src.Speed = tc.speed
		assert.Len(t, drain(t, src), 3)
		assert.Equal(t, tc.want, clock.Waits())
	}
}

func TestReplaySourceCancelWhilePacing(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(t0)
	src := NewReplaySource(strings.NewReader(replayFile(t, 0, time.Hour)), clock)
	src.Paced = true

	ctx, cancel := context.WithCancel(context.Background())
	_, err := src.Next(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := src.Next(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("paced replay ignored cancellation")
	}
}

func TestOpenReplayMissing(t *testing.T) {
	t.Parallel()
	_, err := OpenReplay(fsutil.NewMemoryFileSystem(), "/nope.jsonl", nil)
	assert.Error(t, err)
}

func TestSerialSource(t *testing.T) {
	t.Parallel()
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	src := NewSerialSource(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	port.AddReadData([]byte("speedwatch edge v2\n"))
	port.AddReadData([]byte(`{"model":"yolov8n","fps":14}` + "\n"))
	port.AddReadData([]byte(sampleLine + "\n"))

	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Seq)
	assert.Contains(t, string(serialmux.BoardState()), `"model":"yolov8n"`)

	require.NoError(t, mux.Close())
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestUDPSource(t *testing.T) {
	t.Parallel()
	src, err := ListenUDP("127.0.0.1:0", 1<<20)
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.DialUDP("udp", nil, src.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("garbage"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(sampleLine))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Seq)
	assert.Equal(t, 1, src.Dropped)
}

func TestUDPSourceCancel(t *testing.T) {
	t.Parallel()
	src, err := ListenUDP("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// udpPacket builds an Ethernet/IPv4/UDP frame carrying payload.
func udpPacket(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 1, 20},
		DstIP:    net.IP{192, 168, 1, 10},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestPCAPSource(t *testing.T) {
	t.Parallel()
	var capture bytes.Buffer
	w := pcapgo.NewWriter(&capture)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	write := func(at time.Time, data []byte) {
		ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	write(t0, udpPacket(t, 5005, []byte(sampleLine)))
	write(t0.Add(time.Second), udpPacket(t, 9999, []byte(sampleLine)))
	write(t0.Add(2*time.Second), udpPacket(t, 5005, []byte(`{"seq":8,"width":640,"height":480,"detections":[]}`)))
	write(t0.Add(3*time.Second), udpPacket(t, 5005, []byte("junk")))

	src, err := NewPCAPSource(bytes.NewReader(capture.Bytes()), 5005)
	require.NoError(t, err)
	frames := drain(t, src)
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(7), frames[0].Seq)
	assert.Equal(t, uint64(8), frames[1].Seq)
	assert.True(t, frames[1].Timestamp.Equal(t0.Add(2*time.Second)), "capture time fills a missing ts")
	assert.Equal(t, 3, src.Packets)
	assert.Equal(t, 1, src.Dropped)
	assert.NoError(t, src.Close())
}

func TestPCAPSourceBadHeader(t *testing.T) {
	t.Parallel()
	_, err := NewPCAPSource(strings.NewReader("not a pcap"), 0)
	assert.Error(t, err)
}

func TestSyntheticSource(t *testing.T) {
	t.Parallel()
	cfg := SyntheticConfig{Width: 320, Height: 240, FPS: 10, PixelsPerMeter: 5, SpawnEvery: 5, Frames: 20, Seed: 42, Start: t0, Render: true}
	a := drain(t, NewSyntheticSource(cfg))
	b := drain(t, NewSyntheticSource(cfg))
	require.Len(t, a, 20)

	for i := range a {
		assert.Equal(t, uint64(i+1), a[i].Seq)
		assert.True(t, a[i].Timestamp.Equal(t0.Add(time.Duration(i)*100*time.Millisecond)))
		assert.Equal(t, a[i].Detections, b[i].Detections, "same seed, same scene")
		require.NotNil(t, a[i].Image)
		assert.Equal(t, 320, a[i].Image.Bounds().Dx())
	}
	require.NotEmpty(t, a[0].Detections)
	require.NotEmpty(t, a[1].Detections)
	first, next := a[0].Detections[0], a[1].Detections[0]
	assert.Greater(t, next.BBox.X, first.BBox.X, "vehicles move right")
	assert.InDelta(t, first.BBox.Y, next.BBox.Y, 1e-9)
	for _, f := range a {
		for _, d := range f.Detections {
			assert.Less(t, d.BBox.X, 320.0)
			assert.GreaterOrEqual(t, d.Confidence, 0.85)
		}
	}
}

func TestSyntheticSourcePaced(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(t0)
	src := NewSyntheticSource(SyntheticConfig{FPS: 20, Frames: 3, Clock: clock.AutoAdvance()})
	assert.Len(t, drain(t, src), 3)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.Waits())
}

func TestSliceSource(t *testing.T) {
	t.Parallel()
	src := &SliceSource{Frames: []detect.Frame{{Seq: 1}, {Seq: 2}}}
	assert.Len(t, drain(t, src), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&SliceSource{Frames: []detect.Frame{{Seq: 1}}}).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
