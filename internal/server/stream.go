package server

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/beevik/etree"

	"github.com/mtcforge/mtcagent/internal/assemble"
	"github.com/mtcforge/mtcagent/internal/schema"
)

// streamCurrent writes a multipart/x-mixed-replace stream of current
// snapshots, one part per interval, until the client disconnects.
func (s *Server) streamCurrent(w http.ResponseWriter, r *http.Request, devices []*schema.Device, filter *schema.PathFilter, intervalMs int64) {
	stream, ok := s.startStream(w)
	if !ok {
		return
	}
	defer stream.close()

	for {
		doc := s.agent.Assembler.CurrentDoc(s.agent.Data.Current(), devices, filter)
		if !stream.writePart(doc) {
			return
		}
		if !stream.wait(r, intervalMs) {
			return
		}
	}
}

// streamSample writes successive sample windows. Each part picks up at
// the previous part's nextSequence; a window with no new data emits an
// empty document rather than an error. A terminal error (the window
// fell off the buffer) emits an error part and closes the stream.
func (s *Server) streamSample(w http.ResponseWriter, r *http.Request, devices []*schema.Device, filter *schema.PathFilter, from uint64, count int, intervalMs int64) {
	stream, ok := s.startStream(w)
	if !ok {
		return
	}
	defer stream.close()

	next := from
	for {
		first, last, storeNext := s.agent.Data.Range()
		var doc *etree.Document
		terminal := false
		if next == storeNext {
			doc = s.agent.Assembler.SampleDoc(assemble.SampleWindow{
				FirstSequence: first,
				LastSequence:  last,
				NextSequence:  next,
			}, devices, filter)
		} else {
			win, err := s.sampleWindow(next, count)
			if err != nil {
				doc = s.agent.Assembler.ErrorDoc(assemble.ClassifyError(err))
				terminal = true
			} else {
				doc = s.agent.Assembler.SampleDoc(win, devices, filter)
				next = win.NextSequence
			}
		}

		if !stream.writePart(doc) {
			return
		}
		if terminal {
			return
		}
		if !stream.wait(r, intervalMs) {
			return
		}
	}
}

// multipartStream wraps the response writer for x-mixed-replace output.
type multipartStream struct {
	writer  *multipart.Writer
	flusher http.Flusher
}

func (s *Server) startStream(w http.ResponseWriter) (*multipartStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrors(w, assemble.Errorf(assemble.CodeInvalidRequest,
			"streaming is not supported by this connection"))
		return nil, false
	}
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type",
		"multipart/x-mixed-replace;boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	return &multipartStream{writer: mw, flusher: flusher}, true
}

// writePart serializes one document into a stream part. Returns false
// when the client has gone away.
func (m *multipartStream) writePart(doc *etree.Document) bool {
	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		return false
	}
	part, err := m.writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/xml"},
	})
	if err != nil {
		return false
	}
	if _, err := part.Write(body); err != nil {
		return false
	}
	m.flusher.Flush()
	return true
}

// wait sleeps the interval, aborting when the client disconnects.
func (m *multipartStream) wait(r *http.Request, intervalMs int64) bool {
	select {
	case <-r.Context().Done():
		return false
	case <-time.After(time.Duration(intervalMs) * time.Millisecond):
		return true
	}
}

// close emits the closing boundary.
func (m *multipartStream) close() {
	_ = m.writer.Close()
	m.flusher.Flush()
}
