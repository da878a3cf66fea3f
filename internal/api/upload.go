package api

import (
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

const (
	// multipartOverhead allows for boundaries and form fields on top of file bytes
	multipartOverhead = 1 << 20
	// multipartMemory is how much of a form is buffered before spilling to disk
	multipartMemory = 32 << 20
)

// upload is one file taken from a multipart request
type upload struct {
	Filename string
	Data     []byte
}

// parseForm bounds the body and parses the multipart form
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request, files int) error {
	limit := s.cfg.MaxFileSize*int64(files) + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewFileTooLargeError("request", tooLarge.Limit+1, limit)
		}
		return errors.NewInvalidInputError("expected a multipart/form-data upload", err)
	}
	return nil
}

// singleUpload reads the "file" field
func (s *Server) singleUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	if err := s.parseForm(w, r, 1); err != nil {
		return nil, err
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, errors.NewInvalidInputError("file is required", nil)
	}
	return s.readUpload(headers[0])
}

// readUpload reads at most MaxFileSize+1 bytes so oversize files are detected without buffering them whole
func (s *Server) readUpload(fh *multipart.FileHeader) (*upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("cannot read %s", fh.Filename), err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("cannot read %s", fh.Filename), err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, errors.NewFileTooLargeError(fh.Filename, fh.Size, s.cfg.MaxFileSize)
	}

	return &upload{Filename: fh.Filename, Data: data}, nil
}

// studentID reads student_id from the query string or the form
func studentID(r *http.Request) string {
	return strings.TrimSpace(r.FormValue("student_id"))
}
