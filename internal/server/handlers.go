package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"

	"portfolio-ingestion-service/internal/reconciler"
	"portfolio-ingestion-service/internal/reporter"
	apperrors "portfolio-ingestion-service/pkg/errors"
)

// ConsolidatedFilename is the attachment name of the consolidation CSV.
const ConsolidatedFilename = "consolidated_portfolio_sheet.csv"

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error           string   `json:"error"`
	Code            string   `json:"code,omitempty"`
	Suggestion      string   `json:"suggestion,omitempty"`
	MissingColumns  []string `json:"missing_columns,omitempty"`
	DetectedColumns []string `json:"detected_columns,omitempty"`
	RequestID       string   `json:"request_id,omitempty"`
}

type consolidated struct {
	csv     []byte
	records int
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"persistent": s.service.Persistent(),
		"schema":     s.service.Registry().Version(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	table := reconciler.TableID(chi.URLParam(r, "table"))
	ts, ok := s.service.Registry().Get(table)
	if !ok {
		s.writeError(w, r, apperrors.ValidationError(apperrors.CodeUnknownTable, "table", chi.URLParam(r, "table"), nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":        table,
		"column_names": ts.DisplayNames(),
		"date_column":  ts.DateColumn(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		s.writeError(w, r, uploadError(err, "file"))
		return
	}
	filename, content, err := formFile(r, "file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	replace, _ := strconv.ParseBool(r.FormValue("replace"))
	resp, err := s.service.Ingest(r.Context(), &reconciler.IngestRequest{
		Table:     chi.URLParam(r, "table"),
		Account:   r.FormValue("qcode"),
		Filename:  filename,
		Content:   content,
		StartDate: r.FormValue("startDate"),
		EndDate:   r.FormValue("endDate"),
		Replace:   replace,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		s.writeError(w, r, uploadError(err, "transaction_file"))
		return
	}
	txName, txContent, err := formFile(r, "transaction_file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holdName, holdContent, err := formFile(r, "holding_file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key := contentKey(txName, txContent, holdName, holdContent)
	if cached, ok := s.results.Get(key); ok {
		c := cached.(consolidated)
		s.logger.WithField("request_id", requestIDFrom(r.Context())).Debug("Serving consolidation from cache")
		writeAttachment(w, c, 0)
		return
	}

	resp, err := s.service.Consolidate(r.Context(), &reconciler.ConsolidateRequest{
		TransactionFilename: txName,
		TransactionContent:  txContent,
		HoldingFilename:     holdName,
		HoldingContent:      holdContent,
		Persist:             s.service.Persistent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rg, err := reporter.NewReportGenerator(&reporter.ReportConfig{
		Format:       reporter.FormatCSV,
		CSVDelimiter: ',',
		CSVHeaders:   true,
	})
	if err != nil {
		s.writeError(w, r, apperrors.InternalError(apperrors.CodeUnexpectedError, "report", err))
		return
	}
	var buf bytes.Buffer
	if err := rg.WriteMetrics(resp.Records, &buf); err != nil {
		s.writeError(w, r, apperrors.InternalError(apperrors.CodeUnexpectedError, "render csv", err))
		return
	}

	c := consolidated{csv: buf.Bytes(), records: len(resp.Records)}
	s.results.Set(key, c, cache.DefaultExpiration)
	writeAttachment(w, c, resp.Duration.Milliseconds())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deleted, err := s.service.Delete(r.Context(), &reconciler.DeleteRequest{
		Table:     chi.URLParam(r, "table"),
		Account:   q.Get("qcode"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Deleted %d records", deleted),
		"deleted": deleted,
	})
}

func formFile(r *http.Request, field string) (string, []byte, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, apperrors.ValidationError(apperrors.CodeMissingField, field, nil, err).
			WithSuggestion(fmt.Sprintf("attach the upload as multipart field %q", field))
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, uploadError(err, field)
	}
	return header.Filename, content, nil
}

func uploadError(err error, field string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return apperrors.FileError(apperrors.CodeFileTooLarge, field, err)
	}
	return apperrors.ValidationError(apperrors.CodeMissingField, field, nil, err)
}

func contentKey(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			h.Write([]byte(v))
		case []byte:
			h.Write(v)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeAttachment(w http.ResponseWriter, c consolidated, elapsedMS int64) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ConsolidatedFilename))
	w.Header().Set("X-Records-Count", strconv.Itoa(c.records))
	w.Header().Set("X-Processing-Time-MS", strconv.FormatInt(elapsedMS, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.csv)
}

// StatusFor maps an error to the HTTP status returned for it.
func StatusFor(err error) int {
	ie, ok := apperrors.AsIngestionError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch {
	case ie.Code == apperrors.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ie.Code == apperrors.CodeNoMetrics:
		return http.StatusBadRequest
	case ie.Code == apperrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.IsCategory(err, apperrors.CategoryFormat, apperrors.CategoryValidation, apperrors.CategoryConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := ErrorResponse{
		Error:     err.Error(),
		RequestID: requestIDFrom(r.Context()),
	}
	if ie, ok := apperrors.AsIngestionError(err); ok {
		body.Error = ie.Message
		body.Code = string(ie.Code)
		body.Suggestion = ie.Suggestion
	}
	if missing, detected, ok := apperrors.MissingColumnsDetail(err); ok {
		body.MissingColumns = missing
		body.DetectedColumns = detected
	}

	log := s.logger.WithError(err).WithField("request_id", body.RequestID)
	if status >= http.StatusInternalServerError {
		log.Error("Request error")
	} else {
		log.Warn(strings.TrimSpace("Rejected request " + body.Code))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
