package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"agridetect/internal/auth"
	"agridetect/internal/detection"
	"agridetect/internal/files"
	"agridetect/internal/models"
)

const maxClientRefLen = 128

type historyResponse struct {
	Detections []*models.Detection `json:"detections"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// jsonUpload is the alternative to multipart used by browser clients that
// already hold the photo as a data URL.
type jsonUpload struct {
	Image      string   `json:"image"`
	Filename   string   `json:"filename"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	ClientRef  string   `json:"client_ref"`
	CapturedAt string   `json:"captured_at"`
	Source     string   `json:"source"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	sub, err := s.parseSubmission(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, replayed, err := s.detections.Detect(r.Context(), claims.UserID(), sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	s.respond(w, r, status, d)
}

func (s *Server) parseSubmission(r *http.Request) (detection.Submission, error) {
	var sub detection.Submission
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var capturedAt, source string
	switch ct {
	case "application/json":
		var body jsonUpload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return sub, err
			}
			return sub, badRequest("invalid JSON body")
		}
		img, err := files.DecodeDataURL(body.Image)
		if err != nil {
			return sub, err
		}
		sub.Image, sub.Filename = img, body.Filename
		sub.Latitude, sub.Longitude = body.Latitude, body.Longitude
		sub.ClientRef, capturedAt, source = body.ClientRef, body.CapturedAt, body.Source

	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadBytes); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return sub, err
			}
			return sub, badRequest("invalid multipart form")
		}
		img, name, err := readFormImage(r.MultipartForm, s.cfg.Server.MaxUploadBytes)
		if err != nil {
			return sub, err
		}
		sub.Image, sub.Filename = img, name
		if sub.Latitude, err = formFloat(r, "latitude"); err != nil {
			return sub, err
		}
		if sub.Longitude, err = formFloat(r, "longitude"); err != nil {
			return sub, err
		}
		sub.ClientRef = strings.TrimSpace(r.FormValue("client_ref"))
		capturedAt = r.FormValue("captured_at")
		source = r.FormValue("source")

	default:
		return sub, badRequest("expected multipart/form-data or application/json")
	}

	if len(sub.ClientRef) > maxClientRefLen {
		return sub, badRequest("client_ref is too long")
	}
	if capturedAt = strings.TrimSpace(capturedAt); capturedAt != "" {
		t, err := time.Parse(time.RFC3339, capturedAt)
		if err != nil {
			return sub, badRequest("captured_at must be RFC3339")
		}
		sub.CapturedAt = t.UTC()
	}
	// A client_ref marks a queued replay unless the client says the capture is live.
	source = strings.ToLower(strings.TrimSpace(source))
	switch {
	case source == models.SourceLive:
		sub.Source = models.SourceLive
	case source == models.SourceSync || sub.ClientRef != "":
		sub.Source = models.SourceSync
	case source == "":
		sub.Source = models.SourceLive
	default:
		return sub, badRequest("source must be live or sync")
	}
	return sub, nil
}

// readFormImage accepts the "image" field, or "file" for older clients.
func readFormImage(form *multipart.Form, maxBytes int64) ([]byte, string, error) {
	var fh *multipart.FileHeader
	for _, field := range []string{"image", "file"} {
		if fhs := form.File[field]; len(fhs) > 0 {
			fh = fhs[0]
			break
		}
	}
	if fh == nil {
		return nil, "", badRequest("missing image file")
	}
	if fh.Size > maxBytes {
		return nil, "", files.ErrImageTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

func formFloat(r *http.Request, key string) (*float64, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, badRequest(key + " must be a number")
	}
	return &f, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest(key + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", detection.DefaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = detection.DefaultPageSize
	}
	if limit > detection.MaxPageSize {
		limit = detection.MaxPageSize
	}
	list, err := s.detections.History(r.Context(), auth.ClaimsFrom(r.Context()).UserID(), detection.Page{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, historyResponse{Detections: list, Limit: limit, Offset: offset})
}

func (s *Server) handleGetDetection(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	if lang != "" && !detection.SupportedLanguage(lang) {
		s.writeError(w, r, detection.ErrUnsupportedLanguage)
		return
	}
	d, err := s.detections.Get(r.Context(), auth.ClaimsFrom(r.Context()).UserID(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if lang != "" {
		d.Diagnosis = detection.Localize(d.Diagnosis, lang)
	}
	s.respond(w, r, http.StatusOK, d)
}

func (s *Server) handleDeleteDetection(w http.ResponseWriter, r *http.Request) {
	if err := s.detections.Delete(r.Context(), auth.ClaimsFrom(r.Context()).UserID(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNarration(w http.ResponseWriter, r *http.Request) {
	n, err := s.detections.Narration(r.Context(), auth.ClaimsFrom(r.Context()).UserID(), mux.Vars(r)["id"], r.URL.Query().Get("lang"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, n)
}
