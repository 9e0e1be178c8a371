package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "msgnotify/pkg/logx"
)

func TestLogSenderRecords(t *testing.T) {
	s, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "+15551234567", "ok"))
	assert.ErrorIs(t, s.Send(context.Background(), " ", "x"), ErrEmptyDestination)

	l := s.(*Log)
	assert.Equal(t, []Sent{{Destination: "+15551234567", Body: "ok"}}, l.Sent())
}

func TestLogSenderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLog(logx.Nop()).Send(ctx, "a", "b"), context.Canceled)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "carrier-pigeon"}, logx.Nop())
	assert.Error(t, err)
}
