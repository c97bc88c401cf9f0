// Package stream implements the newline-delimited token framing used between
// the relay endpoint and the chat adapter. A content frame is the literal
// prefix "0:" followed by a JSON-encoded string token; frames with any other
// prefix are control frames and are skipped.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const contentPrefix = "0:"

// maxFrameSize bounds a single frame; provider tokens are tiny but a whole
// response can arrive as one frame when the upstream does not stream.
const maxFrameSize = 1 << 20

// Decode consumes the response body and returns the accumulated reply text.
// Frames are buffered by newline across read boundaries, so a frame split
// between two chunks is reassembled before parsing. A content payload that is
// not valid JSON is appended raw with surrounding quotes stripped.
// Decoding stops with ctx.Err() once ctx is cancelled.
func Decode(ctx context.Context, r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var b strings.Builder
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		line := sc.Text()
		if !strings.HasPrefix(line, contentPrefix) {
			continue
		}
		payload := line[len(contentPrefix):]
		var token string
		if err := json.Unmarshal([]byte(payload), &token); err == nil {
			b.WriteString(token)
		} else {
			b.WriteString(strings.Trim(payload, `"`))
		}
	}
	if err := sc.Err(); err != nil {
		// Cancellation surfaces as a read error on the body; report the
		// context's verdict so callers can tell timeout from abort.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return b.String(), nil
}

// WriteFrame emits one content frame for token.
func WriteFrame(w io.Writer, token string) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s%s\n", contentPrefix, data)
	return err
}
