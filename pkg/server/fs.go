package server

import (
	"context"
	"fmt"
	"net/http"

	"sshstudio/pkg/ssh"
)

type fsRequest struct {
	Path string `json:"path"`
	To   string `json:"to,omitempty"`
	Data []byte `json:"data,omitempty"`
}

type fsResponse struct {
	Stat    *ssh.FileStat  `json:"stat,omitempty"`
	Entries []ssh.DirEntry `json:"entries,omitempty"`
	Target  string         `json:"target,omitempty"`
	Data    []byte         `json:"data,omitempty"`
}

type fsOp func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error)

var fsOps = map[string]fsOp{
	"stat": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		st, err := fs.Stat(ctx, req.Path)
		return &fsResponse{Stat: st}, err
	},
	"ls": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		entries, err := fs.ReadDir(ctx, req.Path)
		return &fsResponse{Entries: entries}, err
	},
	"mkdir": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		return &fsResponse{}, fs.Mkdir(ctx, req.Path)
	},
	"rmdir": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		return &fsResponse{}, fs.Rmdir(ctx, req.Path)
	},
	"rm": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		return &fsResponse{}, fs.Delete(ctx, req.Path)
	},
	"mv": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		return &fsResponse{}, fs.Rename(ctx, req.Path, req.To)
	},
	"readlink": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		target, err := fs.Readlink(ctx, req.Path)
		return &fsResponse{Target: target}, err
	},
	"realpath": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		target, st, err := fs.Realpath(ctx, req.Path)
		return &fsResponse{Target: target, Stat: st}, err
	},
	"read": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		data, err := fs.ReadFile(ctx, req.Path)
		return &fsResponse{Data: data}, err
	},
	"save": func(ctx context.Context, fs *ssh.FileSystem, req *fsRequest) (*fsResponse, error) {
		return &fsResponse{}, fs.Save(ctx, req.Path, req.Data)
	},
}

func (s *ControlServer) handleFileSystem(w http.ResponseWriter, r *http.Request) {
	op, ok := fsOps[r.PathValue("op")]
	if !ok {
		WriteJSON(w, http.StatusNotFound, ErrResponse{Error: fmt.Sprintf("unknown file operation %q", r.PathValue("op"))})
		return
	}

	var req fsRequest
	if !decode(w, r, &req) {
		return
	}

	var resp *fsResponse
	err := s.studio.WithFileSystem(r.Context(), func(fs *ssh.FileSystem) error {
		var err error
		resp, err = op(r.Context(), fs, &req)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
