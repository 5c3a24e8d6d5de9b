package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestSendCommand(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("STREAM=ON"))
	require.NoError(t, mux.SendCommand("FORMAT=JSON\n"))
	assert.Equal(t, "STREAM=ON\nFORMAT=JSON\n", port.GetWrittenData())

	port.WriteError = errors.New("unplugged")
	assert.Error(t, mux.SendCommand("STREAM=OFF"))

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("STREAM=OFF"), ErrWriteFailed)
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialize())
	lines := strings.Split(strings.TrimSpace(port.GetWrittenData()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "CLOCK="))
	assert.Equal(t, []string{"FORMAT=JSON", "BOXES=XYWH", "STREAM=ON"}, lines[1:])
}

func TestMonitorFansOutLines(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("{\"seq\":1,\"detections\":[]}\n{\"temp_c\":41}\n"))

	for _, ch := range []chan string{ch1, ch2} {
		select {
		case line := <-ch:
			assert.Equal(t, `{"seq":1,"detections":[]}`, line)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for first line")
		}
		select {
		case line := <-ch:
			assert.Equal(t, `{"temp_c":41}`, line)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for second line")
		}
	}

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribe closes the channel")

	require.NoError(t, mux.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after close")
	}
	_, ok = <-ch2
	assert.False(t, ok)
}

func TestMonitorHonoursContext(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor ignored cancellation")
	}
}

func TestMockSerialMux(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	mux, port := NewMockSerialMux(ctx, time.Millisecond, func() ([]byte, bool) {
		n++
		return []byte(`{"seq":1,"detections":[]}`), n <= 3
	})
	_, ch := mux.Subscribe()
	go mux.Monitor(ctx)

	for range 3 {
		select {
		case line := <-ch:
			assert.Equal(t, EventTypeFrame, ClassifyPayload(line))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for mock line")
		}
	}
	require.NoError(t, mux.SendCommand("STREAM=ON"))
	assert.Equal(t, "STREAM=ON\n", port.Written())
	require.NoError(t, mux.Close())
}

func TestClassifyPayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{`{"seq":4,"ts":1.5,"detections":[{"x":1}]}`, EventTypeFrame},
		{`  {"model":"yolov8n","fps":29.7}`, EventTypeStatus},
		{`booting...`, EventTypeUnknown},
		{``, EventTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPayload(tt.in), tt.in)
	}
}

func TestHandleStatus(t *testing.T) {
	require.NoError(t, HandleStatus(`{"model":"yolov8n","fps":29.7}`))
	require.NoError(t, HandleStatus(`{"temp_c":55}`))
	assert.Error(t, HandleStatus(`not json`))

	state := string(BoardState())
	assert.Contains(t, state, `"model":"yolov8n"`)
	assert.Contains(t, state, `"temp_c":55`)
}

func TestPortOptions(t *testing.T) {
	t.Parallel()
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 9600, Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}

	mode, err := PortOptions{Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
}

func TestNewSerialMuxWith(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	var gotPath string
	var gotOpts PortOptions
	mux, err := NewSerialMuxWith(func(path string, opts PortOptions) (SerialPorter, error) {
		gotPath, gotOpts = path, opts
		return port, nil
	}, "/dev/ttyUSB0", PortOptions{BaudRate: 57600})
	require.NoError(t, err)
	require.NotNil(t, mux)
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, 57600, gotOpts.BaudRate)

	_, err = NewSerialMuxWith(func(string, PortOptions) (SerialPorter, error) {
		return nil, errors.New("no such device")
	}, "/dev/missing", PortOptions{})
	assert.Error(t, err)
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=STREAM%3DOFF"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STREAM=OFF\n", port.GetWrittenData())

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Detector board")
}

func TestDisabledSerialMux(t *testing.T) {
	t.Parallel()
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	assert.NoError(t, d.SendCommand("STREAM=ON"))
	assert.NoError(t, d.Initialize())
	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
	require.NoError(t, d.Close())
	_, ok = <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	_, ok = <-ch
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestSerialModeStopBits(t *testing.T) {
	t.Parallel()
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	mode, err = PortOptions{StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
}

func TestStatsCountTraffic(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, slow := mux.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	require.NoError(t, mux.SendCommand("STREAM=ON"))
	var lines strings.Builder
	for range subscriberBuffer + 6 {
		lines.WriteString(`{"temp_c":40}` + "\n")
	}
	port.AddReadData([]byte(lines.String()))

	require.Eventually(t, func() bool { return mux.Stats().Dropped == 6 }, time.Second, time.Millisecond,
		"lines beyond the buffer are dropped for a stalled reader")
	st := mux.Stats()
	assert.Equal(t, uint64(subscriberBuffer+6), st.Lines)
	assert.Equal(t, uint64(1), st.Commands)
	assert.Equal(t, 1, st.Subscribers)
	assert.Len(t, slow, subscriberBuffer)

	require.NoError(t, mux.Close())
	<-done
	assert.Zero(t, mux.Stats().Subscribers)
}

func TestSerialStatsRoute(t *testing.T) {
	t.Parallel()
	mux := NewSerialMux(NewTestableSerialPort())
	defer mux.Close()
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodGet, "/debug/serial-stats", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lines":0,"dropped":0,"commands":0,"subscribers":0}`, rec.Body.String())
}
