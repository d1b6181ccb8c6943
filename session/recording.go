// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm a transcript frame was
// compressed with. Stored as the first byte of each frame header —
// the values are format constants, changing them breaks existing
// recordings.
type CompressionTag uint8

const (
	// CompressionNone stores frame bytes verbatim. Used for writes
	// too small to be worth compressing and as the fallback for
	// incompressible data.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is block-mode LZ4: fast, modest ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Transcripts are
	// text-like, so this is the default.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's human-readable name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// smallWriteThreshold is the write size below which compression is
// skipped: the frame header would eat the savings.
const smallWriteThreshold = 64

// frameHeaderSize is tag(1) + uncompressed length(4) + payload
// length(4), big-endian.
const frameHeaderSize = 9

// maxFrameBytes bounds a single transcript frame on read. Writes are
// chunked by the terminal layer well below this.
const maxFrameBytes = 16 * 1024 * 1024

// zstd coders are shared across recorders; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("session: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("session: zstd decoder initialization failed: " + err.Error())
	}
}

// RecorderConfig holds the parameters for creating a Recorder.
type RecorderConfig struct {
	// SessionID names the recording.
	SessionID string

	// Dir is the directory the transcript is written under, created
	// if absent.
	Dir string

	// Redact are compiled patterns whose matches are replaced before
	// any transcript byte is persisted.
	Redact []*regexp.Regexp

	// Compression selects the frame compression. Zero value means
	// zstd.
	Compression CompressionTag

	// Recipients are age recipient strings. When non-empty the
	// transcript is encrypted at rest to these recipients.
	Recipients []string
}

// redactedMarker replaces every redaction-pattern match.
var redactedMarker = []byte("[REDACTED]")

// Recorder persists a session transcript as a sequence of framed
// chunks: redacted, compression-tagged, optionally age-encrypted.
// Safe for one writer; Write and Close serialize internally.
type Recorder struct {
	path        string
	redact      []*regexp.Regexp
	compression CompressionTag

	mu     sync.Mutex
	file   *os.File
	sink   io.Writer
	sealer io.WriteCloser // non-nil when encrypting
	closed bool

	bytesIn int64
	frames  int64
}

// TranscriptName is the transcript file name inside a session
// directory; encrypted transcripts carry the additional ".age"
// suffix.
const TranscriptName = "transcript.rec"

// NewRecorder opens a transcript under config.Dir.
func NewRecorder(config RecorderConfig) (*Recorder, error) {
	if config.Compression == 0 {
		config.Compression = CompressionZstd
	}
	if config.Compression != CompressionLZ4 && config.Compression != CompressionZstd && config.Compression != CompressionNone {
		return nil, fmt.Errorf("unsupported recording compression %d", config.Compression)
	}

	var recipients []age.Recipient
	for _, s := range config.Recipients {
		recipient, err := age.ParseX25519Recipient(s)
		if err != nil {
			return nil, fmt.Errorf("recording recipient %q: %w", s, err)
		}
		recipients = append(recipients, recipient)
	}

	if err := os.MkdirAll(config.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	name := TranscriptName
	if len(recipients) > 0 {
		name += ".age"
	}
	path := filepath.Join(config.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}

	recorder := &Recorder{
		path:        path,
		redact:      config.Redact,
		compression: config.Compression,
		file:        file,
		sink:        file,
	}
	if len(recipients) > 0 {
		sealer, err := age.Encrypt(file, recipients...)
		if err != nil {
			file.Close()
			os.Remove(path)
			return nil, fmt.Errorf("starting transcript encryption: %w", err)
		}
		recorder.sealer = sealer
		recorder.sink = sealer
	}
	return recorder, nil
}

// Path returns the transcript file path.
func (r *Recorder) Path() string { return r.path }

// BytesRecorded returns the pre-compression byte count accepted so
// far, after redaction.
func (r *Recorder) BytesRecorded() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesIn
}

// Write persists one transcript chunk. Redaction runs first, so
// matched secrets never reach disk in any form. Returns len(data) on
// success per io.Writer convention.
func (r *Recorder) Write(data []byte) (int, error) {
	chunk := data
	for _, pattern := range r.redact {
		chunk = pattern.ReplaceAll(chunk, redactedMarker)
	}

	tag := r.compression
	if len(chunk) < smallWriteThreshold {
		tag = CompressionNone
	}
	payload, tag, err := compressFrame(chunk, tag)
	if err != nil {
		return 0, err
	}

	var header [frameHeaderSize]byte
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(chunk)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(payload)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.New("recorder is closed")
	}
	if _, err := r.sink.Write(header[:]); err != nil {
		return 0, fmt.Errorf("writing transcript frame: %w", err)
	}
	if _, err := r.sink.Write(payload); err != nil {
		return 0, fmt.Errorf("writing transcript frame: %w", err)
	}
	r.bytesIn += int64(len(chunk))
	r.frames++
	return len(data), nil
}

// Close flushes the encryption stream, if any, and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.sealer != nil {
		err = r.sealer.Close()
	}
	if e := r.file.Close(); err == nil {
		err = e
	}
	return err
}

// compressFrame compresses one chunk, falling back to CompressionNone
// when the result would not be smaller.
func compressFrame(chunk []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	switch tag {
	case CompressionNone:
		return chunk, CompressionNone, nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(chunk, nil)
		if len(compressed) >= len(chunk) {
			return chunk, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(chunk))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(chunk, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// Zero means incompressible.
		if written == 0 || written >= len(chunk) {
			return chunk, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

// ReadRecording replays a transcript into its uncompressed chunks.
// Encrypted transcripts need the matching age identities.
func ReadRecording(path string, identities ...age.Identity) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	var source io.Reader = file
	if len(identities) > 0 {
		source, err = age.Decrypt(file, identities...)
		if err != nil {
			return nil, fmt.Errorf("decrypting transcript: %w", err)
		}
	}

	var chunks [][]byte
	for {
		var header [frameHeaderSize]byte
		if _, err := io.ReadFull(source, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return chunks, nil
			}
			return nil, fmt.Errorf("reading transcript frame header: %w", err)
		}
		tag := CompressionTag(header[0])
		uncompressedLen := binary.BigEndian.Uint32(header[1:5])
		payloadLen := binary.BigEndian.Uint32(header[5:9])
		if uncompressedLen > maxFrameBytes || payloadLen > maxFrameBytes {
			return nil, fmt.Errorf("transcript frame exceeds %d bytes", maxFrameBytes)
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(source, payload); err != nil {
			return nil, fmt.Errorf("reading transcript frame: %w", err)
		}

		chunk, err := decompressFrame(payload, tag, int(uncompressedLen))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}

func decompressFrame(payload []byte, tag CompressionTag, uncompressedLen int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(payload) != uncompressedLen {
			return nil, fmt.Errorf("uncompressed frame: %d bytes, header says %d", len(payload), uncompressedLen)
		}
		return payload, nil

	case CompressionZstd:
		chunk, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(chunk) != uncompressedLen {
			return nil, fmt.Errorf("zstd frame: %d bytes, header says %d", len(chunk), uncompressedLen)
		}
		return chunk, nil

	case CompressionLZ4:
		chunk := make([]byte, uncompressedLen)
		read, err := lz4.UncompressBlock(payload, chunk)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedLen {
			return nil, fmt.Errorf("lz4 frame: %d bytes, header says %d", read, uncompressedLen)
		}
		return chunk, nil

	default:
		return nil, fmt.Errorf("unknown compression tag %d", tag)
	}
}
