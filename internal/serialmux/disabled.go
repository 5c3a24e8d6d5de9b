package serialmux

import (
	"context"
	"net/http"
)

// DisabledSerialMux stands in for the board when frames come from another
// source. Commands are accepted and discarded; subscriber channels never
// carry lines but still close on Unsubscribe and Close so readers unblock.
type DisabledSerialMux struct {
	subs subscriberSet
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.subs.add(0) }
func (d *DisabledSerialMux) Unsubscribe(id string)            { d.subs.remove(id) }
func (d *DisabledSerialMux) SendCommand(string) error         { return nil }
func (d *DisabledSerialMux) Initialize() error                { return nil }

// Monitor blocks until ctx ends.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.subs.closeAll()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("detector board not in use"))
	})
}

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
)
