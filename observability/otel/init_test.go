package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitWithSignalsDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "flyblox"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, Tracer("test"))
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,broken, =nokey,tenant=fb")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "fb"}, headers)
}
