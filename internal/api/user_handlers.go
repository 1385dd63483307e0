package api

import (
	"net/http"
	"path/filepath"
)

// messageResponse is the reply of every script-backed operation.
type messageResponse struct {
	Message string `json:"message"`
	Output  string `json:"output"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.components().users.List()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if !decodeJSON(w, r, &req, "Username and password are required") {
		return
	}
	annotate(r, "username", req.Username)

	out, err := s.components().users.Add(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "User created successfully", Output: out})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	annotate(r, "username", username)

	var req updateUserRequest
	if !decodeJSON(w, r, &req, "Password is required") {
		return
	}

	out, err := s.components().users.Update(r.Context(), username, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "Password updated successfully", Output: out})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	annotate(r, "username", username)

	out, err := s.components().users.Delete(r.Context(), username)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully", Output: out})
}

func (s *Server) handleReloadIKEv2(w http.ResponseWriter, r *http.Request) {
	out, err := s.components().users.ReloadIKEv2(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "IKEv2 config refreshed", Output: out})
}

func (s *Server) handleDownloadConfig(w http.ResponseWriter, r *http.Request) {
	path, err := s.components().users.Artifact(r.PathValue("filename"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}
