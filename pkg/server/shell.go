package server

import (
	"net/http"
)

type shellOpenRequest struct {
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
	TermType string `json:"term,omitempty"`
}

type shellOpenResponse struct {
	ID string `json:"id"`
}

type shellSendRequest struct {
	Data []byte `json:"data"`
}

func (s *ControlServer) handleShellOpen(w http.ResponseWriter, r *http.Request) {
	var req shellOpenRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.studio.OpenShell(s.shellCtx, req.Cols, req.Rows, req.TermType)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, shellOpenResponse{ID: id})
}

func (s *ControlServer) handleShellSend(w http.ResponseWriter, r *http.Request) {
	var req shellSendRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.studio.SendKey(req.Data); err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, nil)
}

func (s *ControlServer) handleShellResize(w http.ResponseWriter, r *http.Request) {
	var req shellOpenRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.studio.Resize(req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, nil)
}

func (s *ControlServer) handleShellClose(w http.ResponseWriter, _ *http.Request) {
	if err := s.studio.CloseShell(); err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, nil)
}
