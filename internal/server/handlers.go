package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/lmstream/chatd/internal/extract"
	"github.com/lmstream/chatd/internal/history"
	"github.com/lmstream/chatd/internal/session"
)

// maxFileContentChars bounds how much extracted text enters the conversation;
// maxPreviewChars bounds the preview echoed back to the uploader.
const (
	maxFileContentChars = 2000
	maxPreviewChars     = 500
)

// handleChat runs one generation and streams it back as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "No message provided")
		return
	}
	message := gjson.GetBytes(body, "message").String()
	if strings.TrimSpace(message) == "" {
		respondError(w, http.StatusBadRequest, "No message provided")
		return
	}

	stream := newEventStream(w, r)
	state, err := s.sess.Run(r.Context(), message, stream)
	if err != nil && !stream.Started() {
		switch {
		case errors.Is(err, session.ErrBusy):
			respondError(w, http.StatusConflict, "A response is already being generated")
		case errors.Is(err, session.ErrEmptyMessage):
			respondError(w, http.StatusBadRequest, "No message provided")
		default:
			// The client is already gone; there is nobody to answer.
			log.Debug().Err(err).Msg("chat ended before streaming started")
		}
		return
	}
	log.Debug().Str("state", string(state)).Msg("chat request finished")
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Preview  string `json:"preview"`
	Message  string `json:"message"`
}

// handleUpload extracts text from an uploaded document and appends it to the
// conversation as a file-marked user turn. The spooled file is always removed
// after extraction.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Uploads.MaxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.countUpload("too_large")
			respondError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, "No file selected")
		return
	}
	filename := sanitizeFilename(header.Filename)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !extract.Allowed(ext) {
		s.countUpload("rejected")
		respondError(w, http.StatusBadRequest, "File type not allowed")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.countUpload("too_large")
			respondError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(w, http.StatusBadRequest, "No file part")
		return
	}

	// Spool to the uploads dir so a failed extraction can be inspected, then
	// remove it in every outcome.
	spool := filepath.Join(s.cfg.Uploads.Dir, uuid.New().String()+"_"+filename)
	if err := os.WriteFile(spool, data, 0o600); err != nil {
		log.Error().Err(err).Str("path", spool).Msg("failed to spool upload")
	} else {
		defer os.Remove(spool)
	}

	text, err := extract.Text(data, ext)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn().Err(err).Str("filename", filename).Msg("text extraction failed")
		s.countUpload("extract_failed")
		respondError(w, http.StatusBadRequest, "Could not extract text from the file")
		return
	}

	marker := fmt.Sprintf("%s %s]\n\nFile content:\n%s",
		history.FileMarkerPrefix, filename, truncateRunes(text, maxFileContentChars))
	s.hist.Append(history.Turn{Role: history.RoleUser, Content: marker})

	preview := text
	if len([]rune(text)) > maxPreviewChars {
		preview = truncateRunes(text, maxPreviewChars) + "..."
	}

	s.countUpload("accepted")
	log.Info().Str("filename", filename).Int("bytes", len(data)).Msg("file added to conversation")
	respondJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		Filename: filename,
		Preview:  preview,
		Message:  fmt.Sprintf("File '%s' uploaded successfully. You can now ask questions about its content.", filename),
	})
}

// handleRemoveFile drops every file-marked turn from the conversation.
func (s *Server) handleRemoveFile(w http.ResponseWriter, _ *http.Request) {
	removed := s.hist.RemoveFileMarkers()
	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("Removed %d file entries from chat history", removed),
		"removed_count": removed,
	})
}

// handleReset clears the conversation.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.hist.Reset()
	log.Info().Msg("chat history reset")
	respondJSON(w, http.StatusOK, map[string]string{"message": "Chat history reset successfully"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.cfg.Backend.Model,
		"turns":  s.hist.Len(),
	})
}

func (s *Server) countUpload(result string) {
	if s.metrics != nil {
		s.metrics.UploadsTotal.WithLabelValues(result).Inc()
	}
}

// sanitizeFilename strips path components and characters that are unsafe in a
// filesystem name, keeping the extension intact.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "upload"
	}
	return out
}

// truncateRunes limits s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
