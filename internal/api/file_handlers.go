package api

import (
	"net/http"
	"time"

	"grimm.is/vpnadmin/internal/errors"
)

type fileCheckResponse struct {
	Exists bool   `json:"exists"`
	Path   string `json:"path"`
	Error  string `json:"error,omitempty"`
}

type fileReadResponse struct {
	Path         string    `json:"path"`
	Content      string    `json:"content"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Diff    string `json:"diff,omitempty"`
}

// handleFileCheck answers 200 even when the existence test itself fails;
// the failure is reported in the error field. Policy violations are still
// refused outright.
func (s *Server) handleFileCheck(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req, "File path is required") {
		return
	}

	exists, err := s.components().files.Exists(req.Path)
	if err != nil {
		switch errors.KindOf(err) {
		case errors.KindValidation, errors.KindForbidden:
			s.writeErr(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, fileCheckResponse{Path: req.Path, Error: errors.ClientMessage(err)})
		return
	}
	WriteJSON(w, http.StatusOK, fileCheckResponse{Exists: exists, Path: req.Path})
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req, "File path is required") {
		return
	}

	rec, err := s.components().files.Read(req.Path)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, fileReadResponse{
		Path:         rec.Path,
		Content:      rec.Content,
		Size:         rec.Size,
		LastModified: rec.LastModified,
	})
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if !decodeJSON(w, r, &req, "File path and content are required") {
		return
	}
	annotate(r, "path", req.Path)
	annotate(r, "bytes", len(*req.Content))

	diff, err := s.components().files.Write(req.Path, *req.Content)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resultResponse{Success: true, Message: "File written successfully", Diff: diff})
}

func (s *Server) handleFileCreate(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if !decodeJSON(w, r, &req, "File path is required") {
		return
	}
	annotate(r, "path", req.Path)
	annotate(r, "exclusive", req.Exclusive)

	if err := s.components().files.Create(req.Path, req.Content, req.Exclusive); err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resultResponse{Success: true, Message: "File created successfully"})
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req, "File path is required") {
		return
	}
	annotate(r, "path", req.Path)

	if err := s.components().files.Delete(req.Path); err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resultResponse{Success: true, Message: "File deleted successfully"})
}
