package logger

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColorLogger_Printcf(t *testing.T) {
	var buf bytes.Buffer
	c := NewColorLogger(log.New(&buf, "", 0))

	c.Printcf(ColorGreen, "start %s", "fswatchd")
	require.Equal(t, string(ColorGreen)+"start fswatchd"+string(ColorReset)+"\n", buf.String())

	buf.Reset()
	p := NewPlainLogger(log.New(&buf, "", 0))
	p.Printcf(ColorRed, "error %d", 1)
	require.Equal(t, "error 1\n", buf.String())
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fswatchd.log")

	lg, closer := New("test --> ", FileConfig{Path: path, MaxSizeMB: 1})
	lg.Printf("dispatcher :: hello\n")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "test --> "), "prefix written: %q", data)
	require.True(t, strings.HasSuffix(string(data), "dispatcher :: hello\n"))
}

func TestNew_Stdout(t *testing.T) {
	lg, closer := New("test --> ", FileConfig{})
	require.Equal(t, os.Stdout, lg.Writer())
	require.NoError(t, closer.Close())
}
