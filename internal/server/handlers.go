package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hondana/yomu/internal/chat"
	"github.com/hondana/yomu/internal/epub"
	"github.com/hondana/yomu/internal/models"
	"github.com/hondana/yomu/internal/storage"
)

// bookResponse is the metadata view of a book, without chapter bodies.
type bookResponse struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Author    string              `json:"author,omitempty"`
	Language  string              `json:"language,omitempty"`
	Chapters  []models.ChapterRef `json:"chapters"`
	Warnings  []models.Warning    `json:"warnings,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

func toBookResponse(book *models.Book) *bookResponse {
	resp := &bookResponse{
		ID:        book.ID,
		Title:     book.Title,
		Author:    book.Author,
		Language:  book.Language,
		Chapters:  chapterRefs(book),
		Warnings:  book.Warnings,
		CreatedAt: book.CreatedAt,
	}
	return resp
}

func chapterRefs(book *models.Book) []models.ChapterRef {
	refs := make([]models.ChapterRef, len(book.Chapters))
	for i, ch := range book.Chapters {
		refs[i] = models.ChapterRef{ID: ch.ID, Title: ch.Title, Position: i}
	}
	return refs
}

// handleUploadBook ingests an uploaded EPUB. Accepts a multipart form with a
// "file" field or the raw archive as the request body. Re-uploading the same
// bytes returns the existing book.
func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.config.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".epub" {
			s.respondError(w, http.StatusBadRequest, "only .epub files are supported")
			return
		}
		data, err = io.ReadAll(file)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	} else {
		var err error
		data, err = io.ReadAll(r.Body)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	}
	if len(data) == 0 {
		s.respondError(w, http.StatusBadRequest, "empty upload")
		return
	}

	book, err := s.lib.Add(r.Context(), data)
	if err != nil {
		switch {
		case errors.Is(err, epub.ErrInvalidArchive),
			errors.Is(err, epub.ErrMissingContainerDescriptor),
			errors.Is(err, epub.ErrMissingRootFile):
			s.respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("ingestion failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, toBookResponse(book))
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.lib.List(r.Context())
	if err != nil {
		s.logger.Error("list books failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []*models.BookSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"books": summaries})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.lib.Get(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "book not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookID")
	if err := s.lib.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "book not found")
			return
		}
		s.logger.Error("delete book failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetTOC(w http.ResponseWriter, r *http.Request) {
	book, err := s.lib.Get(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "book not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"toc": book.TOC})
}

func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	book, err := s.lib.Get(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "book not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"chapters": chapterRefs(book)})
}

func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	chapter, err := s.lib.Chapter(r.Context(), chi.URLParam(r, "bookID"), chi.URLParam(r, "chapterID"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "chapter not found")
		return
	}
	s.respondJSON(w, http.StatusOK, chapter)
}

type createSessionRequest struct {
	BookID    string `json:"book_id"`
	ChapterID string `json:"chapter_id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BookID == "" {
		s.respondError(w, http.StatusBadRequest, "book_id is required")
		return
	}
	session, err := s.orchestrator.CreateSession(r.Context(), req.BookID, req.ChapterID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "book not found")
		case errors.Is(err, chat.ErrChapterNotFound):
			s.respondError(w, http.StatusNotFound, "chapter not found")
		default:
			s.logger.Error("create session failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.orchestrator.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

type navigateRequest struct {
	ChapterID string `json:"chapter_id"`
	Offset    int    `json:"offset,omitempty"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChapterID == "" {
		s.respondError(w, http.StatusBadRequest, "chapter_id is required")
		return
	}
	session, err := s.orchestrator.Navigate(r.Context(), chi.URLParam(r, "sessionID"), req.ChapterID, req.Offset)
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

type chatRequest struct {
	Message   string `json:"message"`
	ChapterID string `json:"chapter_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	result, err := s.orchestrator.SendTurn(r.Context(), chi.URLParam(r, "sessionID"), req.ChapterID, req.Message)
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// respondChatError maps orchestrator errors to API status codes.
func (s *Server) respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		s.respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrChapterNotFound):
		s.respondError(w, http.StatusNotFound, "chapter not found")
	case errors.Is(err, chat.ErrSessionBusy):
		s.respondError(w, http.StatusConflict, "another turn is in progress")
	case errors.Is(err, chat.ErrBudgetTooSmall):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("chat turn failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

type searchRequest struct {
	Query  string `json:"query"`
	BookID string `json:"book_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search not enabled")
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.Search.DefaultLimit
	}
	if limit > s.config.Search.MaxLimit {
		limit = s.config.Search.MaxLimit
	}
	results, err := s.index.Search(r.Context(), req.Query, req.BookID, limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookCount, err := s.storage.CountBooks(ctx)
	if err != nil {
		s.logger.Error("status: count books failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sessionCount, err := s.storage.CountSessions(ctx)
	if err != nil {
		s.logger.Error("status: count sessions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"books":    bookCount,
		"sessions": sessionCount,
		"config": map[string]any{
			"database_path":    s.config.Storage.DatabasePath,
			"bleve_index_path": s.config.Storage.BleveIndexPath,
			"chat_provider":    s.config.Chat.Provider,
			"token_budget":     s.config.Chat.TokenBudget,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.BleveIndexPath,
	); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
