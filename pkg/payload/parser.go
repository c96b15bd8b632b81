// Package payload extracts crash reports from HTTP POST bodies.
//
// Crash agents submit multipart/form-data payloads, optionally gzipped.
// Text parts become metadata fields; application/octet-stream parts (and
// file attachments) become dumps. Malformed payloads are never an error:
// the parser returns an empty metadata/dumps pair and the endpoint still
// answers the client. The corresponding counters make the malformation
// observable.
package payload

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/marmos91/breakwater/internal/logger"
	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/metrics"
)

// Parser turns an HTTP request into a metadata map and a dump map.
type Parser struct {
	metrics metrics.Sink
}

// NewParser creates a payload parser emitting size and error metrics to
// the given sink.
func NewParser(sink metrics.Sink) *Parser {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Parser{metrics: sink}
}

// Parse extracts the crash payload from req.
//
// It returns empty maps (not an error) when:
//   - the Content-Type header is missing,
//   - the Content-Type is not multipart/form-data with a boundary,
//   - the Content-Length is missing or zero,
//   - Content-Encoding: gzip is declared but the body does not
//     decompress.
//
// Dump names come from client-supplied part names; duplicates overwrite.
// A part named dump_checksums is always discarded so a re-submitted raw
// crash cannot smuggle stale checksums in: the parser recomputes the MD5
// of every dump it stores.
func (p *Parser) Parse(req *http.Request) (crash.Metadata, crash.Dumps) {
	metadata := crash.Metadata{}
	dumps := crash.Dumps{}

	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		return metadata, dumps
	}

	boundary, ok := multipartBoundary(contentType)
	if !ok {
		return metadata, dumps
	}

	if req.ContentLength <= 0 {
		return metadata, dumps
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		logger.Warn("failed to read request body", "error", err)
		return metadata, dumps
	}

	if req.Header.Get("Content-Encoding") == "gzip" {
		p.metrics.Incr("gzipped_crash")

		// The reverse proxy in front of us does not decompress crash
		// bodies, so we do it here. A body that fails to decompress
		// despite the header is junk and processing stops.
		decompressed, err := gunzip(body)
		if err != nil {
			p.metrics.Incr("bad_gzipped_crash")
			return metadata, dumps
		}
		p.metrics.Histogram("crash_size.compressed", float64(len(body)))
		body = decompressed
	} else {
		p.metrics.Histogram("crash_size.uncompressed", float64(len(body)))
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Truncated or malformed multipart body. Keep whatever
			// parsed cleanly before the damage.
			logger.Warn("multipart parse stopped early", "error", err)
			break
		}

		name := part.FormName()
		if name == "" {
			continue
		}
		if name == crash.KeyDumpChecksums {
			continue
		}

		value, err := io.ReadAll(part)
		if err != nil {
			logger.Warn("failed to read multipart part", "part", name, "error", err)
			continue
		}

		if isDump(part) {
			dumps[name] = value
			sum := md5.Sum(value)
			metadata.Checksums()[name] = hex.EncodeToString(sum[:])
		} else {
			metadata[name] = crash.StripNulls(string(value))
		}
	}

	return metadata, dumps
}

// multipartBoundary validates the Content-Type header shape and returns
// the multipart boundary. The header must split into exactly two
// semicolon-separated parts: "multipart/form-data" and "boundary=...".
func multipartBoundary(contentType string) (string, bool) {
	parts := strings.SplitN(contentType, ";", 2)
	if len(parts) != 2 {
		return "", false
	}
	if strings.TrimSpace(parts[0]) != "multipart/form-data" {
		return "", false
	}
	directive := strings.TrimSpace(parts[1])
	if !strings.HasPrefix(directive, "boundary=") {
		return "", false
	}
	boundary := strings.TrimPrefix(directive, "boundary=")
	boundary = strings.Trim(boundary, `"`)
	if boundary == "" {
		return "", false
	}
	return boundary, true
}

// isDump reports whether a multipart part carries dump bytes rather than
// a text field. Breakpad agents send dumps as application/octet-stream;
// some send them as file attachments without a content type.
func isDump(part *multipart.Part) bool {
	if strings.HasPrefix(part.Header.Get("Content-Type"), "application/octet-stream") {
		return true
	}
	return part.FileName() != ""
}

// gunzip decompresses a full gzip stream held in memory.
func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
