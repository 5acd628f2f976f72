package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProbe writes a shell script standing in for ffprobe.
func fakeProbe(t *testing.T, script string) *FFprobe {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o700))
	return NewFFprobe(path)
}

func TestNewFFprobe(t *testing.T) {
	assert.Equal(t, "ffprobe", NewFFprobe("").path)
	assert.Equal(t, "/opt/bin/ffprobe", NewFFprobe("/opt/bin/ffprobe").path)
}

func TestFFprobe_Available(t *testing.T) {
	assert.False(t, NewFFprobe(filepath.Join(t.TempDir(), "missing")).Available())
	assert.True(t, fakeProbe(t, "exit 0").Available())
}

func TestFFprobe_Duration(t *testing.T) {
	t.Run("reads duration from stdout", func(t *testing.T) {
		p := fakeProbe(t, "cat > /dev/null; echo 12.480000")

		d, err := p.Duration(context.Background(), []byte("video bytes"))
		require.NoError(t, err)
		assert.InDelta(t, 12.48, d, 0.0001)
	})

	t.Run("consumes stdin", func(t *testing.T) {
		// Prints the byte count of stdin as the duration.
		p := fakeProbe(t, "wc -c | tr -d ' '")

		d, err := p.Duration(context.Background(), []byte("12345"))
		require.NoError(t, err)
		assert.Equal(t, 5.0, d)
	})

	t.Run("empty input", func(t *testing.T) {
		p := NewFFprobe("")

		_, err := p.Duration(context.Background(), nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("command failure keeps stderr", func(t *testing.T) {
		p := fakeProbe(t, "echo 'pipe:0: Invalid data found' >&2; exit 1")

		_, err := p.Duration(context.Background(), []byte("not a video"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFFprobeExecution)
		assert.Contains(t, err.Error(), "Invalid data found")
	})

	t.Run("not available", func(t *testing.T) {
		p := NewFFprobe(filepath.Join(t.TempDir(), "missing"))

		_, err := p.Duration(context.Background(), []byte("x"))
		assert.ErrorIs(t, err, ErrFFprobeExecution)
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := fakeProbe(t, "sleep 5")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.Duration(ctx, []byte("x"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    float64
		wantErr error
	}{
		{name: "plain", out: "3.5\n", want: 3.5},
		{name: "extra lines", out: "7.25\n1.0\n", want: 7.25},
		{name: "not available", out: "N/A\n", wantErr: ErrNoDuration},
		{name: "empty", out: "", wantErr: ErrNoDuration},
		{name: "zero", out: "0.000000", wantErr: ErrNoDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.out)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseDuration("abc")
	assert.Error(t, err)
}

func TestFFprobe_RealBinary(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}

	_, err := NewFFprobe("").Duration(context.Background(), []byte("definitely not media"))
	assert.Error(t, err)
}
