package ssh

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestFileSystemMkdirStat(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	ctx := testContext(t)

	dir := filepath.Join(t.TempDir(), "made")
	if err := fs.Mkdir(ctx, dir); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	st, err := fs.Stat(ctx, dir)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Type != TypeDirectory {
		t.Fatalf("type = %s, want directory", st.Type)
	}
	if st.Mode != 0o755 {
		t.Fatalf("mode = %o, want 755", st.Mode)
	}
}

func TestFileSystemStatMissing(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))

	missing := filepath.Join(t.TempDir(), "missing")
	_, err := fs.Stat(testContext(t), missing)
	if !IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}

	var fsErr *FileSystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("expected FileSystemError, got %T", err)
	}
	if fsErr.Path != missing {
		t.Fatalf("path = %q, want %q", fsErr.Path, missing)
	}
}

func TestFileSystemSaveReadRename(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	ctx := testContext(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	if err := fs.Save(ctx, src, []byte("hello")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := fs.Rename(ctx, src, dst); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	data, err := fs.ReadFile(ctx, dst)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("content = %q", data)
	}
	if _, err := fs.Stat(ctx, src); !IsNotExist(err) {
		t.Fatalf("source still exists after rename: %v", err)
	}
}

func TestFileSystemCreateOpen(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	ctx := testContext(t)
	p := filepath.Join(t.TempDir(), "c.txt")

	f, err := fs.Create(ctx, p)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	r, err := fs.Open(ctx, p)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "data" {
		t.Fatalf("read %q", buf[:n])
	}
}

func TestFileSystemReadDirAndLinks(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	ctx := testContext(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "file"), filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	entries, err := fs.ReadDir(ctx, dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	types := map[string]FileType{}
	var names []string
	for _, e := range entries {
		types[e.Stat.Name] = e.Stat.Type
		names = append(names, e.Stat.Name)
		if !strings.HasPrefix(e.Path, dir) {
			t.Fatalf("entry path %q not under %q", e.Path, dir)
		}
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "file,link,sub" {
		t.Fatalf("entries = %v", names)
	}
	if types["file"] != TypeFile || types["sub"] != TypeDirectory || types["link"] != TypeSymlink {
		t.Fatalf("types = %v", types)
	}

	target, err := fs.Readlink(ctx, filepath.Join(dir, "link"))
	if err != nil {
		t.Fatalf("Readlink failed: %v", err)
	}
	if target != filepath.Join(dir, "file") {
		t.Fatalf("link target = %q", target)
	}

	resolved, st, err := fs.Realpath(ctx, filepath.Join(dir, "sub", ".."))
	if err != nil {
		t.Fatalf("Realpath failed: %v", err)
	}
	if st.Type != TypeDirectory || !strings.HasSuffix(resolved, filepath.Base(dir)) {
		t.Fatalf("realpath = %q (%s)", resolved, st.Type)
	}
}

func TestFileSystemRmdirNonEmpty(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "keep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rmdir(testContext(t), dir); err == nil {
		t.Fatalf("expected Rmdir of a non-empty directory to fail")
	}
}

func TestFileSystemDeleteRecursive(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	ctx := testContext(t)

	outside := filepath.Join(t.TempDir(), "precious")
	if err := os.WriteFile(outside, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	outsideDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(outsideDir, "inner"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(t.TempDir(), "tree")
	for _, d := range []string{"a/b/c", "a/d", "e"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"top", "a/one", "a/b/two", "a/b/c/three", "e/four"} {
		if err := os.WriteFile(filepath.Join(root, f), []byte(f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(outside, filepath.Join(root, "a", "link-file")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outsideDir, filepath.Join(root, "e", "link-dir")); err != nil {
		t.Fatal(err)
	}

	if err := fs.Delete(ctx, root); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := fs.Stat(ctx, root); !IsNotExist(err) {
		t.Fatalf("root still exists: %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("symlink target was removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outsideDir, "inner")); err != nil {
		t.Fatalf("symlinked directory was followed: %v", err)
	}
}

func TestFileSystemDeleteSingleFile(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))
	p := filepath.Join(t.TempDir(), "f")

	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Delete(testContext(t), p); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("file still exists: %v", err)
	}
}

func TestFileSystemDeleteMissing(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))

	err := fs.Delete(testContext(t), filepath.Join(t.TempDir(), "gone"))
	if !IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestFileSystemDeleteDepthBudget(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	fs := NewFileSystem(newTestClient(t, srv))

	root := filepath.Join(t.TempDir(), "deep")
	p := root
	for i := 0; i < 260; i++ {
		p = filepath.Join(p, "d")
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}

	err := fs.Delete(testContext(t), root)
	if !errors.Is(err, errTreeTooDeep) {
		t.Fatalf("expected depth budget error, got %v", err)
	}
}
