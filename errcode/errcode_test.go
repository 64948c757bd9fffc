package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
	assert.Equal(t, Timeout, Of(Timeout))
	assert.Equal(t, InitFailed, Of(&E{C: InitFailed, Op: "dht.init"}))
	assert.Equal(t, ReadFailed, Of(fmt.Errorf("poll: %w", &E{C: ReadFailed})))
	assert.Equal(t, Error, Of(errors.New("boom")))
}

func TestE_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("gpio 99 not found")
	err := &E{C: InitFailed, Op: "dht.init", Msg: "pin 99", Err: cause}

	assert.Equal(t, "dht.init: init_failed: pin 99: gpio 99 not found", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, InitFailed)
	assert.NotErrorIs(t, err, ReadFailed)
}

func TestRPC(t *testing.T) {
	cases := map[Code]int{
		OK:             0,
		InvalidPayload: 400,
		NoHandler:      404,
		Timeout:        504,
		InitFailed:     500,
		Error:          500,
	}
	for c, want := range cases {
		assert.Equal(t, want, RPC(c), "code %s", c)
	}
}
