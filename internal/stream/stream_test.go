package stream

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_AccumulatesContentFrames(t *testing.T) {
	body := "0:\"Hello\"\n0:\" world\"\n"
	out, err := Decode(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "Hello world", out)
}

func TestDecode_MalformedPayloadFallsBackRaw(t *testing.T) {
	out, err := Decode(context.Background(), strings.NewReader("0:not-json\n"))
	require.NoError(t, err)
	require.Equal(t, "not-json", out)
}

func TestDecode_IgnoresControlFrames(t *testing.T) {
	body := "f:{\"messageId\":\"abc\"}\n" +
		"0:\"Hello\"\n" +
		"e:{\"finishReason\":\"stop\"}\n" +
		"d:{\"finishReason\":\"stop\"}\n"
	out, err := Decode(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "Hello", out)
}

// chunkReader yields one predefined chunk per Read call.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestDecode_ReassemblesFrameSplitAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{"0:\"He", "llo\"\n0:\"!\"\n"}}
	out, err := Decode(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "Hello!", out)
}

func TestDecode_JSONEscapesSurvive(t *testing.T) {
	out, err := Decode(context.Background(), strings.NewReader("0:\"line\\nbreak \\\"quoted\\\"\"\n"))
	require.NoError(t, err)
	require.Equal(t, "line\nbreak \"quoted\"", out)
}

func TestDecode_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Decode(ctx, strings.NewReader("0:\"Hello\"\n"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteFrame(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteFrame(&b, "Hello"))
	require.NoError(t, WriteFrame(&b, " \"world\"\n"))
	require.Equal(t, "0:\"Hello\"\n0:\" \\\"world\\\"\\n\"\n", b.String())
}

func TestWriteFrame_RoundTrip(t *testing.T) {
	var b strings.Builder
	tokens := []string{"Hel", "lo", " wor", "ld", "\nwith\nnewlines"}
	for _, tok := range tokens {
		require.NoError(t, WriteFrame(&b, tok))
	}
	out, err := Decode(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Equal(t, "Hello world\nwith\nnewlines", out)
}
