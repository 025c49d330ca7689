package adns_test

import (
	"testing"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID(t *testing.T) {
	id := adns.NewRequestID()
	require.NotEmpty(t, id.String())

	other := adns.NewRequestID()
	assert.NotEqual(t, id, other)
}

var reqIDSink adns.RequestID

func BenchmarkNewRequestID(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		reqIDSink = adns.NewRequestID()
	}

	require.NotEmpty(b, reqIDSink)
}
