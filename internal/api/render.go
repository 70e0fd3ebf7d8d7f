package api

import "bytes"

// renderMarkdown converts a model answer to HTML. Raw HTML in the answer
// is not passed through. On failure it returns "" and clients fall back
// to the plain text.
func (s *Server) renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		s.logger.Debug("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}
