package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"sshstudio/pkg/define"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

var errTreeTooDeep = errors.New("directory tree exceeds delete depth budget")

// FileType classifies a remote entry
type FileType int

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeSymlink
	TypeOther
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// FileStat describes a remote path without following symlinks.
type FileStat struct {
	Name    string      `json:"name"`
	Size    int64       `json:"size"`
	Mode    fs.FileMode `json:"mode"`
	Type    FileType    `json:"type"`
	ModTime time.Time   `json:"modTime"`
}

// DirEntry is one entry of a listing with its full remote path.
type DirEntry struct {
	Path string   `json:"path"`
	Stat FileStat `json:"stat"`
}

func newFileStat(info fs.FileInfo) FileStat {
	st := FileStat{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode().Perm(),
		ModTime: info.ModTime(),
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		st.Type = TypeSymlink
	case info.IsDir():
		st.Type = TypeDirectory
	case info.Mode().IsRegular():
		st.Type = TypeFile
	default:
		st.Type = TypeOther
	}
	return st
}

// FileSystem runs file-access operations over the client's sftp handle.
// Every failure comes back as a FileSystemError naming the path.
type FileSystem struct {
	client *Client
}

// NewFileSystem creates a file-system client for client
func NewFileSystem(client *Client) *FileSystem {
	return &FileSystem{client: client}
}

func (f *FileSystem) do(ctx context.Context, op, p string, fn func(*sftp.Client) error) error {
	sc, err := f.client.fileAccess(op, p)
	if err != nil {
		return err
	}
	if err := awaitErr(ctx, f.client, func() error { return fn(sc) }); err != nil {
		return &FileSystemError{Op: op, Path: p, Err: err}
	}
	return nil
}

// Stat returns the attributes of p itself, not of a symlink's target.
func (f *FileSystem) Stat(ctx context.Context, p string) (*FileStat, error) {
	var st FileStat
	err := f.do(ctx, "stat", p, func(sc *sftp.Client) error {
		info, err := sc.Lstat(p)
		if err != nil {
			return err
		}
		st = newFileStat(info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Mkdir creates p with mode 0755.
func (f *FileSystem) Mkdir(ctx context.Context, p string) error {
	return f.do(ctx, "mkdir", p, func(sc *sftp.Client) error {
		if err := sc.Mkdir(p); err != nil {
			return err
		}
		return sc.Chmod(p, define.MkdirMode)
	})
}

// Rmdir removes the empty directory p.
func (f *FileSystem) Rmdir(ctx context.Context, p string) error {
	return f.do(ctx, "rmdir", p, func(sc *sftp.Client) error {
		return sc.RemoveDirectory(p)
	})
}

// Create creates or truncates p for writing.
func (f *FileSystem) Create(ctx context.Context, p string) (*sftp.File, error) {
	var file *sftp.File
	err := f.do(ctx, "create", p, func(sc *sftp.Client) (err error) {
		file, err = sc.Create(p)
		return err
	})
	return file, err
}

// Open opens p for reading.
func (f *FileSystem) Open(ctx context.Context, p string) (*sftp.File, error) {
	var file *sftp.File
	err := f.do(ctx, "open", p, func(sc *sftp.Client) (err error) {
		file, err = sc.Open(p)
		return err
	})
	return file, err
}

// Rename moves from to to.
func (f *FileSystem) Rename(ctx context.Context, from, to string) error {
	return f.do(ctx, "rename", from, func(sc *sftp.Client) error {
		if err := sc.Rename(from, to); err != nil {
			return fmt.Errorf("to %q: %w", to, err)
		}
		return nil
	})
}

// ReadDir lists p. Entries are stat'ed without following symlinks.
func (f *FileSystem) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	var entries []DirEntry
	err := f.do(ctx, "readdir", p, func(sc *sftp.Client) error {
		infos, err := sc.ReadDir(p)
		if err != nil {
			return err
		}
		entries = make([]DirEntry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, DirEntry{
				Path: path.Join(p, info.Name()),
				Stat: newFileStat(info),
			})
		}
		return nil
	})
	return entries, err
}

// Readlink returns the target of the symlink p.
func (f *FileSystem) Readlink(ctx context.Context, p string) (string, error) {
	var target string
	err := f.do(ctx, "readlink", p, func(sc *sftp.Client) (err error) {
		target, err = sc.ReadLink(p)
		return err
	})
	return target, err
}

// Realpath canonicalizes p and stats the result.
func (f *FileSystem) Realpath(ctx context.Context, p string) (string, *FileStat, error) {
	var (
		resolved string
		st       FileStat
	)
	err := f.do(ctx, "realpath", p, func(sc *sftp.Client) error {
		var err error
		resolved, err = sc.RealPath(p)
		if err != nil {
			return err
		}
		info, err := sc.Stat(resolved)
		if err != nil {
			return err
		}
		st = newFileStat(info)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return resolved, &st, nil
}

// Save creates p and writes data to it.
func (f *FileSystem) Save(ctx context.Context, p string, data []byte) error {
	return f.do(ctx, "save", p, func(sc *sftp.Client) error {
		file, err := sc.Create(p)
		if err != nil {
			return err
		}
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			return err
		}
		return file.Close()
	})
}

// ReadFile opens p and reads it to the end.
func (f *FileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := f.do(ctx, "read", p, func(sc *sftp.Client) error {
		file, err := sc.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		return err
	})
	return data, err
}

// Delete removes p. Files and symlinks are unlinked; directories are emptied
// depth first and then removed. Symlinks are never followed.
func (f *FileSystem) Delete(ctx context.Context, p string) error {
	return f.delete(ctx, p, 0)
}

func (f *FileSystem) delete(ctx context.Context, p string, depth int) error {
	if depth > define.MaxDeleteDepth {
		return &FileSystemError{Op: "delete", Path: p, Err: errTreeTooDeep}
	}

	st, err := f.Stat(ctx, p)
	if err != nil {
		return err
	}

	if st.Type != TypeDirectory {
		return f.do(ctx, "unlink", p, func(sc *sftp.Client) error {
			return sc.Remove(p)
		})
	}

	entries, err := f.ReadDir(ctx, p)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := f.delete(ctx, entry.Path, depth+1); err != nil {
			return err
		}
	}

	logrus.Debugf("removing directory %s", p)
	return f.Rmdir(ctx, p)
}

// IsNotExist reports whether err says a remote path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
