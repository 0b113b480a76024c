package tcpclient

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mk6i/stomp-relay/stompframe"
)

// writeFrame marshals a STOMP frame onto w using the text encoding:
// COMMAND\nheader:value\n...\n\nbody\x00. Header keys/values are escaped
// per the STOMP spec (backslash, colon, newline, carriage return),
// following the encode table wjmboss-stompngo uses for the same
// concern. A frame with an empty command, no headers and an empty or
// single-newline body is encoded as the bare heartbeat newline.
func writeFrame(w *bufio.Writer, f stompframe.Frame) error {
	if f.IsHeartbeat() {
		_, err := w.Write(stompframe.HeartbeatPayload)
		if err != nil {
			return err
		}
		return w.Flush()
	}

	if _, err := w.WriteString(f.Command); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	for i := 0; i+1 < len(f.Headers); i += 2 {
		if _, err := w.WriteString(encodeToken(f.Headers[i])); err != nil {
			return err
		}
		if err := w.WriteByte(':'); err != nil {
			return err
		}
		if _, err := w.WriteString(encodeToken(f.Headers[i+1])); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if len(f.Body) > 0 {
		if _, err := fmt.Fprintf(w, "%s:%d\n", stompframe.HeaderContentLength, len(f.Body)); err != nil {
			return err
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := w.Write(f.Body); err != nil {
		return err
	}
	if err := w.WriteByte(0); err != nil {
		return err
	}
	return w.Flush()
}

// readFrame blocks until a complete frame (or the bare heartbeat
// newline) has been read from r.
func readFrame(r *bufio.Reader) (stompframe.Frame, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return stompframe.Frame{}, err
	}
	if line == "\n" {
		return stompframe.NewHeartbeatFrame(), nil
	}
	command := strings.TrimSuffix(line, "\n")

	var headers stompframe.Headers
	contentLength := -1
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return stompframe.Frame{}, err
		}
		hline = strings.TrimSuffix(hline, "\n")
		if hline == "" {
			break
		}
		parts := strings.SplitN(hline, ":", 2)
		if len(parts) != 2 {
			return stompframe.Frame{}, fmt.Errorf("malformed header line %q", hline)
		}
		key := decodeToken(parts[0])
		value := decodeToken(parts[1])
		headers = append(headers, key, value)
		if key == stompframe.HeaderContentLength {
			if n, err := strconv.Atoi(value); err == nil {
				contentLength = n
			}
		}
	}

	var body []byte
	if contentLength >= 0 {
		body = make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return stompframe.Frame{}, err
		}
		if _, err := r.ReadByte(); err != nil { // trailing NUL
			return stompframe.Frame{}, err
		}
	} else {
		b, err := r.ReadBytes(0)
		if err != nil {
			return stompframe.Frame{}, err
		}
		body = bytes.TrimSuffix(b, []byte{0})
	}

	return stompframe.Frame{Command: command, Headers: headers, Body: body}, nil
}

var encodeReplacer = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`, ":", `\c`)
var decodeReplacer = strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\c`, ":", `\\`, `\`)

func encodeToken(s string) string { return encodeReplacer.Replace(s) }
func decodeToken(s string) string { return decodeReplacer.Replace(s) }
