package ops

import (
	"context"
	"strings"
	"testing"

	"gctl/logx"
	"gctl/protocoldrv"
)

func TestSendStreamDrainsWithoutBackpressure(t *testing.T) {
	c := New(protocoldrv.NewGRBLDriver(logx.New("test"), 128), nil)
	r := strings.NewReader("G0 X0\n\nG1 X10 F100\n")

	if err := c.SendStream(context.Background(), r); err != nil {
		t.Fatalf("SendStream() error = %v, want nil", err)
	}
}

func TestSendStreamRespectsContextCancellation(t *testing.T) {
	c := New(protocoldrv.NewGRBLDriver(logx.New("test"), 128), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := strings.NewReader("G0 X0\nG1 X10 F100\nG1 X20 F100\n")

	if err := c.SendStream(ctx, r); err != context.Canceled {
		t.Fatalf("SendStream() error = %v, want context.Canceled", err)
	}
}
