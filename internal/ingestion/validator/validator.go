// Package validator checks conversation uploads, listing windows and
// conversation ids before any store is touched. Every rejection is an
// *errors.AppError carrying the client-facing message.
package validator

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

const (
	DefaultLimit = 50
	MinLimit     = 1
	MaxLimit     = 100

	// FileField is the multipart field carrying the transcript.
	FileField       = "htmlDoc"
	ModelField      = "model"
	StructuredField = "isMCP"

	// multipartMemory is held in memory before parts spill to disk.
	multipartMemory = 8 << 20
)

var (
	ErrInvalidLimit = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
		"Invalid limit parameter. Must be between 1 and 100.")
	ErrInvalidOffset = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
		"Invalid offset parameter. Must be non-negative.")
	ErrMissingFile = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
		"`htmlDoc` must be a file field")
	ErrInvalidID = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
		"Invalid conversation id.")
)

// Page is a validated listing window.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit and offset from q. Absent parameters take their
// defaults; present ones must be base-10 integers within range.
func ParsePage(q url.Values) (Page, error) {
	page := Page{Limit: DefaultLimit, Offset: 0}
	if q.Has("limit") {
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit < MinLimit || limit > MaxLimit {
			return Page{}, ErrInvalidLimit
		}
		page.Limit = limit
	}
	if q.Has("offset") {
		offset, err := strconv.Atoi(q.Get("offset"))
		if err != nil || offset < 0 {
			return Page{}, ErrInvalidOffset
		}
		page.Offset = offset
	}
	return page, nil
}

// ValidateID rejects ids that are not UUIDs.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}

// Upload is a validated conversation submission.
type Upload struct {
	Raw        []byte
	Filename   string
	Model      string
	Structured bool
}

// ParseUpload reads a multipart submission. The body should already be
// wrapped in http.MaxBytesReader; exceeding that limit yields a 413.
// model defaults to defaultModel only when the field is absent, and the
// structured flag is set only by the exact value "true".
func ParseUpload(r *http.Request, defaultModel string) (*Upload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"upload exceeds the %d byte limit", tooLarge.Limit)
		}
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"invalid multipart body: %v", err)
	}
	form := r.MultipartForm

	files := form.File[FileField]
	if len(files) == 0 {
		return nil, ErrMissingFile
	}
	raw, err := readFile(files[0])
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"upload exceeds the %d byte limit", tooLarge.Limit)
		}
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"reading %s: %v", FileField, err)
	}

	upload := &Upload{
		Raw:      raw,
		Filename: files[0].Filename,
		Model:    defaultModel,
	}
	if values, ok := form.Value[ModelField]; ok && len(values) > 0 {
		upload.Model = values[0]
	}
	if values := form.Value[StructuredField]; len(values) > 0 {
		upload.Structured = values[0] == "true"
	}
	return upload, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	return data, nil
}
