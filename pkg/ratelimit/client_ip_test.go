package ratelimit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPResolver_ClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		trusted  []string
		trustAll bool
		remote   string
		header   http.Header
		want     string
	}{
		{
			name:   "remote addr with port",
			remote: "192.168.1.50:12345",
			want:   "192.168.1.50",
		},
		{
			name:   "remote addr without port",
			remote: "192.168.1.50",
			want:   "192.168.1.50",
		},
		{
			name:   "proxy headers ignored when nothing is trusted",
			remote: "10.0.0.1:1234",
			header: http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
			want:   "10.0.0.1",
		},
		{
			name:     "first X-Forwarded-For entry when trusting all",
			trustAll: true,
			remote:   "10.0.0.1:1234",
			header:   http.Header{"X-Forwarded-For": []string{"203.0.113.1, 203.0.113.2"}},
			want:     "203.0.113.1",
		},
		{
			name:     "X-Real-IP used when X-Forwarded-For is absent",
			trustAll: true,
			remote:   "10.0.0.1:1234",
			header:   http.Header{"X-Real-Ip": []string{"198.51.100.42"}},
			want:     "198.51.100.42",
		},
		{
			name:     "X-Forwarded-For wins over X-Real-IP",
			trustAll: true,
			remote:   "10.0.0.1:1234",
			header: http.Header{
				"X-Forwarded-For": []string{"203.0.113.50"},
				"X-Real-Ip":       []string{"198.51.100.42"},
			},
			want: "203.0.113.50",
		},
		{
			name:     "garbage X-Forwarded-For falls back to remote",
			trustAll: true,
			remote:   "10.0.0.1:1234",
			header:   http.Header{"X-Forwarded-For": []string{"not-an-ip"}},
			want:     "10.0.0.1",
		},
		{
			name:    "peer inside trusted CIDR",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:1234",
			header:  http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
			want:    "203.0.113.50",
		},
		{
			name:    "peer outside trusted CIDR",
			trusted: []string{"10.0.0.0/8"},
			remote:  "192.168.1.1:1234",
			header:  http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
			want:    "192.168.1.1",
		},
		{
			name:    "single trusted IP",
			trusted: []string{"10.0.0.1"},
			remote:  "10.0.0.1:1234",
			header:  http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
			want:    "203.0.113.50",
		},
		{
			name:    "neighbour of single trusted IP",
			trusted: []string{"10.0.0.1"},
			remote:  "10.0.0.2:1234",
			header:  http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
			want:    "10.0.0.2",
		},
		{
			name:    "invalid trusted entries are skipped",
			trusted: []string{"bogus"},
			remote:  "10.0.0.1:1234",
			header:  http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
			want:    "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resolver := NewClientIPResolver(tt.trusted, tt.trustAll)
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			r := &http.Request{RemoteAddr: tt.remote, Header: header}
			assert.Equal(t, tt.want, resolver.ClientIP(r))
		})
	}
}

func TestClientIPResolver_NilResolverUsesRemoteAddr(t *testing.T) {
	t.Parallel()
	var resolver *ClientIPResolver
	r := &http.Request{
		RemoteAddr: "10.0.0.9:80",
		Header:     http.Header{"X-Forwarded-For": []string{"203.0.113.50"}},
	}
	assert.Equal(t, "10.0.0.9", resolver.ClientIP(r))
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "127.0.0.1", RemoteIP("127.0.0.1:8080"))
	assert.Equal(t, "::1", RemoteIP("[::1]:443"))
	assert.Equal(t, "bufconn", RemoteIP("bufconn"))
}
