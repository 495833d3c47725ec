// Package codec provides size-gated compression for stored tool responses.
//
// Payloads above the configured threshold are gzip-compressed and carried as
// base64 text inside the record payload. Decompression is tolerant of both
// representations: raw gzip bytes and base64 text of those bytes.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// DefaultThreshold is the serialized-size threshold in bytes above which
// payloads are compressed.
const DefaultThreshold = 5120

// DecodeError is returned when a stored payload fails to decompress or parse.
// It scopes the failure to a single record; multi-record reads continue.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Codec compresses and decompresses serialized payloads.
type Codec struct {
	threshold int
}

// New creates a codec with the given compression threshold.
// Non-positive thresholds fall back to DefaultThreshold.
func New(threshold int) *Codec {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Codec{threshold: threshold}
}

// Threshold returns the configured compression threshold in bytes.
func (c *Codec) Threshold() int { return c.threshold }

// ShouldCompress reports whether a serialized payload exceeds the threshold.
func (c *Codec) ShouldCompress(serialized []byte) bool {
	return len(serialized) > c.threshold
}

// Compress gzips the given bytes.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressToText gzips and base64-encodes data for text-safe storage.
func (c *Codec) CompressToText(data []byte) (string, error) {
	compressed, err := c.Compress(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// Decompress decodes a stored compressed payload back into a structured
// object. Accepts raw gzip bytes, base64 text of gzip bytes, or plain JSON
// text that was never compressed. Corrupted input yields a *DecodeError.
func (c *Codec) Decompress(data any) (any, error) {
	raw, err := toBytes(data)
	if err != nil {
		return nil, err
	}

	if !isGzip(raw) {
		// Textual input: try base64 of gzip first, then plain JSON.
		if decoded, b64err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw))); b64err == nil && isGzip(decoded) {
			raw = decoded
		} else {
			var parsed any
			if jerr := json.Unmarshal(raw, &parsed); jerr == nil {
				return parsed, nil
			}
			return nil, &DecodeError{Stage: "detect", Err: fmt.Errorf("payload is neither gzip, base64 gzip, nor JSON")}
		}
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Stage: "gzip", Err: err}
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, &DecodeError{Stage: "gunzip", Err: err}
	}

	var parsed any
	if err := json.Unmarshal(plain, &parsed); err != nil {
		return nil, &DecodeError{Stage: "parse", Err: err}
	}
	return parsed, nil
}

func toBytes(data any) ([]byte, error) {
	switch x := data.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, &DecodeError{Stage: "input", Err: fmt.Errorf("unsupported payload type %T", data)}
	}
}

// isGzip checks the two-byte gzip magic header.
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
