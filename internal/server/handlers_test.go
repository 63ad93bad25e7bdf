package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmstream/chatd/internal/backend"
	"github.com/lmstream/chatd/internal/config"
	"github.com/lmstream/chatd/internal/history"
	"github.com/lmstream/chatd/internal/session"
)

// stubStream yields a fixed fragment script.
type stubStream struct {
	fragments []string
	pos       int
	gate      chan struct{}
}

func (s *stubStream) Next() (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *stubStream) Close() error { return nil }

// stubGenerator produces a fresh scripted stream per call.
type stubGenerator struct {
	fragments []string
	gate      chan struct{}
	err       error
}

func (g *stubGenerator) Generate(context.Context, string) (backend.Stream, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &stubStream{fragments: g.fragments, gate: g.gate}, nil
}

type fixture struct {
	srv  *Server
	hist *history.Store
	sess *session.Session
}

func newFixture(t *testing.T, gen backend.Generator) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Uploads.Dir = t.TempDir()
	hist := history.NewStore()
	sess := session.New(gen, hist, session.Config{
		SystemContext: "ctx",
		MaxTurns:      cfg.History.MaxTurns,
	})
	return &fixture{srv: New(cfg, sess, hist, nil), hist: hist, sess: sess}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func chatRequest(message string) *http.Request {
	body := fmt.Sprintf(`{"message":%q}`, message)
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseEvents decodes the "data: {json}" frames of an SSE body.
func parseEvents(t *testing.T, body string) []session.Event {
	t.Helper()
	var events []session.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "unexpected frame %q", frame)
		var ev session.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChat_StreamsEvents(t *testing.T) {
	f := newFixture(t, &stubGenerator{fragments: []string{"Hello", ", world"}})

	rec := f.do(chatRequest("hi"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "Hello", events[0].Content)
	assert.Equal(t, ", world", events[1].Content)
	assert.True(t, events[2].Done)
	assert.Equal(t, "Hello, world", events[2].FullResponse)

	snap := f.hist.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Hello, world", snap[1].Content)
}

func TestChat_MissingMessage(t *testing.T) {
	f := newFixture(t, &stubGenerator{})

	for _, body := range []string{`{}`, `{"message":"   "}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		rec := f.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.JSONEq(t, `{"error":"No message provided"}`, rec.Body.String())
	}
	assert.Equal(t, 0, f.hist.Len())
}

func TestChat_BackendFailureReportedInStream(t *testing.T) {
	f := newFixture(t, &stubGenerator{err: fmt.Errorf("connection refused")})

	rec := f.do(chatRequest("hi"))

	// The error travels inside the event stream, matching a failure that
	// occurs after headers are already committed.
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Error, "connection refused")
	assert.Equal(t, 1, f.hist.Len(), "only the user turn remains")
}

func TestChat_ConcurrentRequestRejected(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &stubGenerator{fragments: []string{"x"}, gate: gate})

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- f.do(chatRequest("one")) }()

	require.Eventually(t, func() bool {
		return f.sess.State() == session.StateStreaming
	}, time.Second, time.Millisecond)

	rec := f.do(chatRequest("two"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"A response is already being generated"}`, rec.Body.String())

	close(gate)
	assert.Equal(t, http.StatusOK, (<-first).Code)
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_AppendsFileMarkedTurn(t *testing.T) {
	f := newFixture(t, &stubGenerator{})

	rec := f.do(uploadRequest(t, "file", "notes.txt", []byte("quarterly numbers")))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "notes.txt", resp.Filename)
	assert.Equal(t, "quarterly numbers", resp.Preview)
	assert.Contains(t, resp.Message, "notes.txt")

	snap := f.hist.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, history.IsFileMarked(snap[0]))
	assert.Contains(t, snap[0].Content, "[Uploaded file: notes.txt]")
	assert.Contains(t, snap[0].Content, "quarterly numbers")
}

func TestUpload_LongPreviewGetsEllipsis(t *testing.T) {
	f := newFixture(t, &stubGenerator{})
	content := strings.Repeat("a", 3000)

	rec := f.do(uploadRequest(t, "file", "big.txt", []byte(content)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, strings.Repeat("a", 500)+"...", resp.Preview)

	// Conversation content is capped independently of the preview.
	snap := f.hist.Snapshot()
	require.Len(t, snap, 1)
	assert.Contains(t, snap[0].Content, strings.Repeat("a", 2000))
	assert.NotContains(t, snap[0].Content, strings.Repeat("a", 2001))
}

func TestUpload_DisallowedType(t *testing.T) {
	f := newFixture(t, &stubGenerator{})

	rec := f.do(uploadRequest(t, "file", "payload.exe", []byte("MZ")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"File type not allowed"}`, rec.Body.String())
	assert.Equal(t, 0, f.hist.Len())
}

func TestUpload_MissingFilePart(t *testing.T) {
	f := newFixture(t, &stubGenerator{})

	rec := f.do(uploadRequest(t, "document", "notes.txt", []byte("x")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file part"}`, rec.Body.String())
}

func TestUpload_ExtractionFailure(t *testing.T) {
	f := newFixture(t, &stubGenerator{})

	rec := f.do(uploadRequest(t, "file", "broken.pdf", []byte("not a pdf")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Could not extract text from the file"}`, rec.Body.String())
	assert.Equal(t, 0, f.hist.Len())
}

func TestRemoveFile_ReportsCount(t *testing.T) {
	f := newFixture(t, &stubGenerator{})
	f.hist.Append(history.Turn{Role: history.RoleUser, Content: "[Uploaded file: a.txt]\n\nFile content:\nA"})
	f.hist.Append(history.Turn{Role: history.RoleUser, Content: "keep me"})
	f.hist.Append(history.Turn{Role: history.RoleUser, Content: "[Bestand: b.txt]\n\nFile content:\nB"})

	rec := f.do(httptest.NewRequest(http.MethodPost, "/remove_file", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"success":true,"message":"Removed 2 file entries from chat history","removed_count":2}`,
		rec.Body.String())
	assert.Equal(t, 1, f.hist.Len())
}

func TestReset_ClearsHistory(t *testing.T) {
	f := newFixture(t, &stubGenerator{})
	f.hist.Append(history.Turn{Role: history.RoleUser, Content: "hello"})

	rec := f.do(httptest.NewRequest(http.MethodPost, "/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Chat history reset successfully"}`, rec.Body.String())
	assert.Equal(t, 0, f.hist.Len())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubGenerator{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
