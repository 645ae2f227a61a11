package api

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/ingest"
	"github.com/dharsanguruparan/surveyfiles/internal/model"
	"github.com/dharsanguruparan/surveyfiles/internal/storage"
)

type uploadResult struct {
	FileID   string           `json:"fileId"`
	Filename string           `json:"filename"`
	FileSize int64            `json:"fileSize"`
	FileType model.Kind       `json:"fileType"`
	Status   model.FileStatus `json:"status"`
}

type listResult struct {
	Files []*model.UploadRecord `json:"files"`
	Count int                   `json:"count"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r, apiUpload)
	if !ok {
		return
	}
	userID, ok := s.user(w, r, apiUpload)
	if !ok {
		return
	}
	surveyID, ok := s.uuidParam(w, r, apiUpload, "surveyId")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		failure(w, apiUpload, http.StatusBadRequest, "BadRequest", "expecting multipart form")
		return
	}
	form, err := s.readUploadForm(mr)
	if err != nil {
		var tooLarge *tooLargeError
		var maxBytes *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.As(err, &maxBytes) {
			failure(w, apiUpload, http.StatusRequestEntityTooLarge, "PayloadTooLarge", err.Error())
			return
		}
		failure(w, apiUpload, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	defer form.file.Close()

	rec, err := s.svc.Upload(r.Context(), ingest.UploadRequest{
		TenantID:   tenantID,
		SurveyID:   surveyID,
		ResponseID: form.fields["responseId"],
		FieldID:    form.fields["fieldId"],
		Filename:   form.file.filename,
		MimeType:   form.file.mimeType,
		Size:       form.file.size,
		Content:    form.file.f,
		UploadedBy: userID,
	})
	if err != nil {
		s.writeError(w, r, apiUpload, err)
		return
	}
	success(w, apiUpload, http.StatusCreated, "File uploaded successfully", uploadResult{
		FileID:   rec.FileID,
		Filename: rec.OriginalFilename,
		FileSize: rec.SizeBytes,
		FileType: rec.Kind,
		Status:   rec.Status,
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	tenantID, surveyID, fileID, ok := s.fileRoute(w, r, apiRead)
	if !ok {
		return
	}
	rec, err := s.svc.GetFile(r.Context(), tenantID, surveyID, fileID)
	if err != nil {
		s.writeError(w, r, apiRead, err)
		return
	}
	success(w, apiRead, http.StatusOK, "File details fetched successfully", rec)
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	tenantID, surveyID, fileID, ok := s.fileRoute(w, r, apiURL)
	if !ok {
		return
	}
	u, err := s.svc.GetAccessURL(r.Context(), tenantID, surveyID, fileID)
	if err != nil {
		s.writeError(w, r, apiURL, err)
		return
	}
	success(w, apiURL, http.StatusOK, "File URL generated successfully", u)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, surveyID, fileID, ok := s.fileRoute(w, r, apiDelete)
	if !ok {
		return
	}
	userID, ok := s.user(w, r, apiDelete)
	if !ok {
		return
	}
	if err := s.svc.DeleteFile(r.Context(), tenantID, surveyID, fileID, userID); err != nil {
		s.writeError(w, r, apiDelete, err)
		return
	}
	success(w, apiDelete, http.StatusOK, "File deleted successfully", map[string]string{"fileId": fileID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r, apiList)
	if !ok {
		return
	}
	surveyID, ok := s.uuidParam(w, r, apiList, "surveyId")
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	recs, err := s.svc.ListFiles(r.Context(), tenantID, surveyID, ingest.ListFilter{
		ResponseID: q.Get("responseId"),
		FieldID:    q.Get("fieldId"),
		UploadedBy: q.Get("uploadedBy"),
		Limit:      limit,
	})
	if err != nil {
		s.writeError(w, r, apiList, err)
		return
	}
	if recs == nil {
		recs = []*model.UploadRecord{}
	}
	success(w, apiList, http.StatusOK, "Files fetched successfully", listResult{Files: recs, Count: len(recs)})
}

// handleObject serves local backend objects. Signed URLs are enforced when a
// validator is configured.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(raw)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		raw = unescaped
	}
	key, err := storage.CleanKey(raw)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if s.opts.Validator != nil {
		q := r.URL.Query()
		if !s.opts.Validator.Validate(key, q.Get("expires"), q.Get("signature")) {
			http.Error(w, "invalid or expired signature", http.StatusForbidden)
			return
		}
	}
	p, err := s.opts.Objects.Path(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(time.Hour/time.Second)))
	http.ServeContent(w, r, filepath.Base(p), info.ModTime(), f)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, apiID string, err error) {
	var validation *ingest.ValidationError
	var exceeded *ingest.QuotaExceededError
	switch {
	case errors.As(err, &validation):
		failure(w, apiID, http.StatusBadRequest, "BadRequest", validation.Error())
	case errors.Is(err, ingest.ErrNotFound):
		failure(w, apiID, http.StatusNotFound, "NotFound", "File not found")
	case errors.Is(err, ingest.ErrQuarantined):
		failure(w, apiID, http.StatusGone, "Gone", "File was quarantined after a virus scan")
	case errors.As(err, &exceeded):
		failure(w, apiID, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Storage quota exceeded")
	default:
		s.logger.Error("request failed",
			zap.String("api_id", apiID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		failure(w, apiID, http.StatusInternalServerError, "InternalServerError", "internal server error")
	}
}

func (s *Server) tenant(w http.ResponseWriter, r *http.Request, apiID string) (string, bool) {
	tenantID := strings.TrimSpace(r.Header.Get(headerTenant))
	if tenantID == "" {
		failure(w, apiID, http.StatusBadRequest, "BadRequest", "tenantid header is required")
		return "", false
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		failure(w, apiID, http.StatusBadRequest, "BadRequest", "tenantid must be a valid UUID format")
		return "", false
	}
	return tenantID, true
}

func (s *Server) user(w http.ResponseWriter, r *http.Request, apiID string) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(headerUser))
	if userID == "" {
		failure(w, apiID, http.StatusUnauthorized, "Unauthorized", "Invalid or missing user")
		return "", false
	}
	return userID, true
}

func (s *Server) uuidParam(w http.ResponseWriter, r *http.Request, apiID, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if _, err := uuid.Parse(v); err != nil {
		failure(w, apiID, http.StatusBadRequest, "BadRequest", name+" must be a valid UUID")
		return "", false
	}
	return v, true
}

func (s *Server) fileRoute(w http.ResponseWriter, r *http.Request, apiID string) (tenantID, surveyID, fileID string, ok bool) {
	if tenantID, ok = s.tenant(w, r, apiID); !ok {
		return
	}
	if surveyID, ok = s.uuidParam(w, r, apiID, "surveyId"); !ok {
		return
	}
	fileID, ok = s.uuidParam(w, r, apiID, "fileId")
	return
}
