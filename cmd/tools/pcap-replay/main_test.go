package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Arguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing pcap", nil, "-pcap is required"},
		{"bad port", []string{"-pcap", "x.pcap", "-port", "70000"}, "-port must be between 0 and 65535"},
		{"bad target", []string{"-pcap", "x.pcap", "-target", "nowhere"}, "invalid -target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, 2, run(context.Background(), tt.args, &stderr))
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestRun_MissingFile(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-pcap", t.TempDir() + "/missing.pcap", "-target", "127.0.0.1:9"}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "failed to open PCAP file")
}
