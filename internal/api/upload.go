package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"strings"

	"github.com/dharsanguruparan/surveyfiles/internal/ingest"
)

const (
	sniffLen     = 3072
	maxFieldSize = 1 << 10
)

var (
	errNoFile    = errors.New("multipart field \"file\" is required")
	errEmptyFile = errors.New("empty file")
)

type tooLargeError struct{ limit int64 }

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("file exceeds limit (%d bytes)", e.limit)
}

type tempUpload struct {
	f        *os.File
	size     int64
	mimeType string
	filename string
}

func (t *tempUpload) Close() {
	t.f.Close()
	os.Remove(t.f.Name())
}

type uploadForm struct {
	file   *tempUpload
	fields map[string]string
}

// readUploadForm walks every part: the file is spooled to disk and the small
// text fields are collected, in whatever order the client sent them.
func (s *Server) readUploadForm(mr *multipart.Reader) (*uploadForm, error) {
	form := &uploadForm{fields: make(map[string]string)}
	fail := func(err error) (*uploadForm, error) {
		if form.file != nil {
			form.file.Close()
		}
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read multipart: %w", err))
		}
		name := part.FormName()
		switch {
		case name == "file" && form.file == nil:
			tmp, err := s.persistTemp(part)
			part.Close()
			if err != nil {
				return fail(err)
			}
			form.file = tmp
		case name != "" && part.FileName() == "":
			v, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			part.Close()
			if err != nil {
				return fail(fmt.Errorf("read field %s: %w", name, err))
			}
			form.fields[name] = strings.TrimSpace(string(v))
		default:
			part.Close()
		}
	}
	if form.file == nil {
		return nil, errNoFile
	}
	return form, nil
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp(s.opts.TempDir, "surveyfiles-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.opts.MaxUploadBytes {
				return discard(&tooLargeError{limit: s.opts.MaxUploadBytes})
			}
			if len(sniff) < sniffLen {
				sniff = append(sniff, buf[:min(n, sniffLen-len(sniff))]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return discard(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return discard(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return discard(errEmptyFile)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return discard(fmt.Errorf("rewind temp file: %w", err))
	}
	return &tempUpload{
		f:        tmpFile,
		size:     written,
		mimeType: ingest.ResolveMIME(part.Header.Get("Content-Type"), sniff),
		filename: part.FileName(),
	}, nil
}
