package iocontext

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
)

func TestGetIO_Default(t *testing.T) {
	streams := GetIO(context.Background())
	if streams.Out != os.Stdout || streams.ErrOut != os.Stderr || streams.In != os.Stdin {
		t.Error("expected process streams when none are set")
	}
}

func TestWithIO_RoundTrip(t *testing.T) {
	out := &bytes.Buffer{}
	in := strings.NewReader("hi\n")
	ctx := WithIO(context.Background(), &IO{Out: out, ErrOut: out, In: in})

	got := GetIO(ctx)
	if got.Out != out || got.In != in {
		t.Error("expected injected streams")
	}
}

func TestWithIO_NilFallsBack(t *testing.T) {
	ctx := WithIO(context.Background(), nil)
	if GetIO(ctx).Out != os.Stdout {
		t.Error("nil IO should fall back to defaults")
	}
}
