package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"github.com/ziadkadry99/insightpdf/internal/db"
	"github.com/ziadkadry99/insightpdf/internal/embeddings"
	"github.com/ziadkadry99/insightpdf/internal/extract"
	"github.com/ziadkadry99/insightpdf/internal/llm"
	"github.com/ziadkadry99/insightpdf/internal/rag"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

// errNotIndexed is reported when a question arrives before any upload.
var errNotIndexed = errors.New("no document has been uploaded yet; upload a PDF first")

type welcomeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type uploadResponse struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	PageCount  int    `json:"page_count"`
}

type chatRequest struct {
	Question string          `json:"question" validate:"required"`
	History  json.RawMessage `json:"history"`
	Format   string          `json:"format,omitempty" validate:"omitempty,oneof=markdown html"`
}

type chatResponse struct {
	Answer      string `json:"answer"`
	SourcePages []int  `json:"source_pages"`
	AnswerHTML  string `json:"answer_html,omitempty"`
}

type statusResponse struct {
	State      rag.State     `json:"state"`
	ChunkCount int           `json:"chunk_count"`
	Document   *db.Ingestion `json:"document,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, welcomeResponse{Status: "Alive", Message: "Welcome to InsightPDF"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit of "+strconv.FormatInt(s.cfg.MaxUploadBytes>>20, 10)+" MB")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !extract.IsPDFName(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, "only .pdf files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
		return
	}

	res, err := s.engine.Ingest(r.Context(), data, rag.WithFilename(header.Filename))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Filename:   header.Filename,
		Status:     "Ingested Successfully",
		ChunkCount: res.ChunkCount,
		PageCount:  res.PageCount,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if r.URL.Query().Get("format") == "html" {
		req.Format = "html"
	}

	resp, status, err := s.answer(r.Context(), req)
	if err != nil {
		s.logFailure(r, status, err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// answer runs one chat request. It is shared by the HTTP and websocket
// handlers and reports the HTTP status for any failure.
func (s *Server) answer(ctx context.Context, req chatRequest) (*chatResponse, int, error) {
	req.Question = strings.TrimSpace(req.Question)
	if err := s.validate.Struct(req); err != nil {
		return nil, http.StatusBadRequest, validationError(err)
	}
	history, err := rag.ParseHistory(req.History)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if st.State == rag.StateEmpty {
		return nil, http.StatusConflict, errNotIndexed
	}

	ans, err := s.engine.Answer(ctx, req.Question, history)
	if err != nil {
		return nil, statusFor(err), err
	}

	resp := &chatResponse{Answer: ans.Text, SourcePages: ans.SourcePages}
	if resp.SourcePages == nil {
		resp.SourcePages = []int{}
	}
	if req.Format == "html" {
		html, err := s.renderer.Render(ans.Text)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		resp.AnswerHTML = html
	}
	return resp, http.StatusOK, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := statusResponse{State: st.State, ChunkCount: st.ChunkCount}
	if s.ingestions != nil && st.State == rag.StateIndexed {
		doc, err := s.ingestions.Latest(r.Context())
		switch {
		case err == nil:
			resp.Document = doc
		case !errors.Is(err, db.ErrNotFound):
			hlog.FromRequest(r).Warn().Err(err).Msg("loading latest ingestion")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngestions(w http.ResponseWriter, r *http.Request) {
	if s.ingestions == nil {
		writeJSON(w, http.StatusOK, []db.Ingestion{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.ingestions.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []db.Ingestion{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// statusFor maps a core error to an HTTP status code.
func statusFor(err error) int {
	var (
		extractErr  *extract.ExtractionError
		writeErr    *vectordb.IndexWriteError
		embedErr    *embeddings.EmbeddingError
		providerErr *llm.ProviderError
		ingestErr   *rag.IngestionError
		synthErr    *rag.SynthesisError
	)
	switch {
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity
	case llm.IsCapacity(err):
		return http.StatusTooManyRequests
	case errors.As(err, &writeErr):
		return http.StatusInternalServerError
	case errors.As(err, &embedErr), errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ingestErr) && ingestErr.Err == nil:
		// Empty or text-less documents.
		return http.StatusUnprocessableEntity
	case errors.As(err, &synthErr) && synthErr.Err == nil:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logFailure(r, status, err)
	writeError(w, status, err.Error())
}

func (s *Server) logFailure(r *http.Request, status int, err error) {
	log := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		return
	}
	log.Warn().Err(err).Int("status", status).Msg("request rejected")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// validationError turns validator output into a client-facing message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if fe.Tag() == "required" {
		return errors.New(field + " is required")
	}
	return fmt.Errorf("%s must be one of %s", field, fe.Param())
}
