package api

import (
	"net/http"
	"strconv"

	"grimm.is/vpnadmin/internal/capability"
	"grimm.is/vpnadmin/internal/health"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.components().status.Snapshot(r.Context()))
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	c := s.components()
	services := c.cfg.VPN.RestartServices
	annotate(r, "services", services)

	out, err := health.Restart(r.Context(), c.elevated, services)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "Services restarted successfully", Output: out})
}

// handleLogs returns recent journal entries of one monitored service.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	c := s.components()
	q := r.URL.Query()

	service := q.Get("service")
	if service == "" {
		WriteError(w, http.StatusBadRequest, "Service is required")
		return
	}
	if !c.status.Monitored(service) {
		WriteError(w, http.StatusBadRequest, "Service is not monitored", service)
		return
	}

	lines := 0
	if v := q.Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}

	entries, err := c.journal.Tail(r.Context(), service, lines)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

// executeResponse mirrors a command outcome. A non-zero exit is still a 200.
type executeResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.components().commands.List())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeJSON(w, r, &req, "Command is required") {
		return
	}

	name, args, err := capability.Parse(req.Command, req.Args)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	annotate(r, "command", name)
	annotate(r, "argc", len(args))

	commands := s.components().commands
	if c, ok := commands.Lookup(name); ok {
		annotate(r, "sudo", c.Sudo)
	}
	res, err := commands.Run(r.Context(), name, args)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	annotate(r, "exit_code", res.ExitCode)

	resp := executeResponse{Success: res.OK(), Output: res.Stdout, Error: res.Stderr}
	if !res.OK() && resp.Error == "" {
		resp.Error = "command exited with status " + strconv.Itoa(res.ExitCode)
	}
	WriteJSON(w, http.StatusOK, resp)
}
