package fileops

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

type notification struct {
	tenant string
	op     string
	paths  []string
}

type recorder struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recorder) NotifyChange(_ context.Context, tenant, op string, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{tenant, op, paths})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) last() notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

// newService returns a Service over a temp base, alice's root and the recorder.
func newService(t *testing.T) (*Service, string, *recorder) {
	t.Helper()
	logging.InitNop()

	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	roots, err := vfs.NewRoots(base)
	require.NoError(t, err)
	rec := &recorder{}
	svc := New(roots, rec)
	root, err := svc.Root("alice")
	require.NoError(t, err)
	return svc, root, rec
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestListOrder(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "b.txt", "b")
	write(t, root, "a.png", "a")
	require.NoError(t, os.Mkdir(filepath.Join(root, "A"), 0o755))

	l, err := svc.List(context.Background(), "alice", "")
	require.NoError(t, err)
	var names []string
	for _, n := range l.Nodes {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"A", "a.png", "b.txt"}, names)
	assert.Equal(t, "", l.Path)
	assert.Equal(t, "", l.Parent)
}

func TestListSubdirAndErrors(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "docs/2024/report.pdf", "r")
	ctx := context.Background()

	l, err := svc.List(ctx, "alice", "/docs/2024/")
	require.NoError(t, err)
	assert.Equal(t, "docs/2024", l.Path)
	assert.Equal(t, "docs", l.Parent)
	require.Len(t, l.Nodes, 1)
	assert.Equal(t, "docs/2024/report.pdf", l.Nodes[0].Path)

	_, err = svc.List(ctx, "alice", "../bob")
	assert.ErrorIs(t, err, vfs.ErrPathEscape)

	_, err = svc.List(ctx, "alice", "missing")
	assert.ErrorIs(t, err, vfs.ErrUnavailable)

	_, err = svc.List(ctx, "alice", "docs/2024/report.pdf")
	assert.ErrorIs(t, err, vfs.ErrUnavailable)
}

func TestListOrRootFallsBack(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "docs/a.txt", "a")
	ctx := context.Background()

	for _, rel := range []string{"../../etc", "missing", "docs/a.txt"} {
		l, err := svc.ListOrRoot(ctx, "alice", rel)
		require.NoError(t, err, rel)
		assert.True(t, l.Redirected, rel)
		assert.Equal(t, "", l.Path, rel)
	}

	l, err := svc.ListOrRoot(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.False(t, l.Redirected)
	assert.Equal(t, "docs", l.Path)
}

func TestTenantsAreIsolated(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "mine.txt", "alice")
	ctx := context.Background()

	bobRoot, err := svc.Root("bob")
	require.NoError(t, err)
	write(t, bobRoot, "theirs.txt", "bob")

	l, err := svc.List(ctx, "bob", "")
	require.NoError(t, err)
	require.Len(t, l.Nodes, 1)
	assert.Equal(t, "theirs.txt", l.Nodes[0].Name)

	_, err = svc.Open(ctx, "bob", "../alice/mine.txt")
	assert.ErrorIs(t, err, vfs.ErrPathEscape)
}

func TestUpload(t *testing.T) {
	svc, root, rec := newService(t)
	ctx := context.Background()

	rel, err := svc.Upload(ctx, "alice", "docs", "note.txt", strings.NewReader("v1"))
	require.NoError(t, err)
	assert.Equal(t, "docs/note.txt", rel)

	// Last write wins.
	_, err = svc.Upload(ctx, "alice", "docs", "note.txt", strings.NewReader("version two"))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "docs", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))

	info, err := os.Stat(filepath.Join(root, "docs", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, notification{"alice", OpUpload, []string{"docs/note.txt"}}, rec.last())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(root, "docs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUploadRejects(t *testing.T) {
	svc, root, rec := newService(t)
	ctx := context.Background()

	tests := []struct {
		dir, name string
		kind      error
	}{
		{"", "", vfs.ErrInvalidName},
		{"", "   ", vfs.ErrInvalidName},
		{"", "../escape.txt", vfs.ErrInvalidName},
		{"", "a//b.txt", vfs.ErrInvalidName},
		{"", vfs.TempPrefix + "x", vfs.ErrInvalidName},
		{"../..", "x.txt", vfs.ErrPathEscape},
	}
	for _, tt := range tests {
		_, err := svc.Upload(ctx, "alice", tt.dir, tt.name, strings.NewReader("x"))
		assert.ErrorIs(t, err, tt.kind, "Upload(%q, %q)", tt.dir, tt.name)
	}
	assert.Equal(t, 0, rec.count(), "failed uploads must not notify")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadAllOneNotification(t *testing.T) {
	svc, root, rec := newService(t)

	files := []struct{ name, body string }{
		{"album/one.jpg", "1"},
		{"album/sub/two.jpg", "22"},
		{"", "bad"},
		{"three.txt", "333"},
	}
	i := 0
	next := func() (string, io.Reader, error) {
		if i == len(files) {
			return "", nil, io.EOF
		}
		f := files[i]
		i++
		return f.name, strings.NewReader(f.body), nil
	}

	res, err := svc.UploadAll(context.Background(), "alice", "uploads", next)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, CodeInvalidName, res.Items[2].Code)

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"uploads/album/one.jpg", "uploads/album/sub/two.jpg", "uploads/three.txt"}, rec.last().paths)

	data, err := os.ReadFile(filepath.Join(root, "uploads", "album", "sub", "two.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "22", string(data))
}

func TestUploadAllReaderError(t *testing.T) {
	svc, _, rec := newService(t)
	calls := 0
	next := func() (string, io.Reader, error) {
		calls++
		if calls == 1 {
			return "ok.txt", strings.NewReader("ok"), nil
		}
		return "", nil, errors.New("malformed multipart")
	}

	res, err := svc.UploadAll(context.Background(), "alice", "", next)
	assert.Error(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, rec.count(), "files stored before the error still notify")
}

func TestCreateFolderIdempotent(t *testing.T) {
	svc, root, rec := newService(t)
	ctx := context.Background()

	r := svc.CreateFolder(ctx, "alice", "", "My Photos!")
	require.True(t, r.OK, r.Error)
	assert.Equal(t, "My Photos", r.Path)
	assert.Equal(t, 1, rec.count())

	r = svc.CreateFolder(ctx, "alice", "", "My Photos")
	assert.True(t, r.OK, "second create must succeed")
	assert.Equal(t, 1, rec.count(), "nothing changed, nothing to notify")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir())
}

func TestCreateFolderRejects(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	for _, raw := range []string{"", "!!!", "..", "/"} {
		r := svc.CreateFolder(ctx, "alice", "", raw)
		assert.False(t, r.OK, "CreateFolder(%q)", raw)
		assert.Equal(t, CodeInvalidName, r.Code, "CreateFolder(%q)", raw)
	}
	r := svc.CreateFolder(ctx, "alice", "../..", "x")
	assert.Equal(t, CodePathEscape, r.Code)
	assert.Equal(t, 0, rec.count())
}

func TestCreateFolderNested(t *testing.T) {
	svc, root, _ := newService(t)
	r := svc.CreateFolder(context.Background(), "alice", "a/b", "c")
	require.True(t, r.OK, r.Error)
	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRename(t *testing.T) {
	svc, root, rec := newService(t)
	write(t, root, "docs/old.txt", "x")

	r := svc.Rename(context.Background(), "alice", "docs", "old.txt", "new<name>.txt")
	require.True(t, r.OK, r.Error)
	assert.Equal(t, "docs/old.txt", r.Path)
	assert.Equal(t, "docs/newname.txt", r.Target)
	assert.FileExists(t, filepath.Join(root, "docs", "newname.txt"))
	assert.NoFileExists(t, filepath.Join(root, "docs", "old.txt"))
	assert.Equal(t, notification{"alice", OpRename, []string{"docs/old.txt", "docs/newname.txt"}}, rec.last())
}

func TestRenameFailuresAreReported(t *testing.T) {
	svc, root, rec := newService(t)
	write(t, root, "a.txt", "a")
	write(t, root, "b.txt", "b")
	ctx := context.Background()

	tests := []struct {
		old, new string
		code     string
	}{
		{"a.txt", "b.txt", CodeAlreadyExists},
		{"missing.txt", "c.txt", CodeNotFound},
		{"a.txt", "???", CodeInvalidName},
		{"../a.txt", "c.txt", CodeInvalidName},
		{"", "c.txt", CodeInvalidName},
	}
	for _, tt := range tests {
		r := svc.Rename(ctx, "alice", "", tt.old, tt.new)
		assert.False(t, r.OK, "Rename(%q, %q)", tt.old, tt.new)
		assert.Equal(t, tt.code, r.Code, "Rename(%q, %q)", tt.old, tt.new)
		assert.NotEmpty(t, r.Error)
	}

	data, err := os.ReadFile(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data), "rename must never overwrite")
	assert.Equal(t, 0, rec.count())
}

func TestRenameSymlinkRenamesLink(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "real/f.txt", "f")
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	r := svc.Rename(context.Background(), "alice", "", "alias", "shortcut")
	require.True(t, r.OK, r.Error)

	info, err := os.Lstat(filepath.Join(root, "shortcut"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	assert.DirExists(t, filepath.Join(root, "real"))
}

func TestMovePartialFailure(t *testing.T) {
	svc, root, rec := newService(t)
	write(t, root, "a.txt", "a")
	write(t, root, "folder/b.txt", "b")
	require.NoError(t, os.Mkdir(filepath.Join(root, "dest"), 0o755))

	res := svc.Move(context.Background(), "alice", "dest", []string{"a.txt", "missing.txt", "folder"})
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, CodeNotFound, res.Items[1].Code)

	assert.FileExists(t, filepath.Join(root, "dest", "a.txt"))
	assert.FileExists(t, filepath.Join(root, "dest", "folder", "b.txt"))
	assert.NoFileExists(t, filepath.Join(root, "a.txt"))
	assert.NoDirExists(t, filepath.Join(root, "folder"))

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"a.txt", "dest/a.txt", "folder", "dest/folder"}, rec.last().paths)
}

func TestMoveGuards(t *testing.T) {
	svc, root, rec := newService(t)
	write(t, root, "x/y/z.txt", "z")
	write(t, root, "dest/dup.txt", "old")
	write(t, root, "dup.txt", "new")
	ctx := context.Background()

	res := svc.Move(ctx, "alice", "x/y", []string{"x", "", "../etc", "dup.txt"})
	require.Len(t, res.Items, 4)
	assert.Equal(t, CodeInvalidName, res.Items[0].Code, "folder into itself")
	assert.Equal(t, CodeRootProtected, res.Items[1].Code)
	assert.Equal(t, CodePathEscape, res.Items[2].Code)
	assert.True(t, res.Items[3].OK)

	res = svc.Move(ctx, "alice", "dest", []string{"x/y/dup.txt"})
	assert.Equal(t, CodeAlreadyExists, res.Items[0].Code)
	data, err := os.ReadFile(filepath.Join(root, "dest", "dup.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	res = svc.Move(ctx, "alice", "nowhere", []string{"dest/dup.txt"})
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, CodeNotFound, res.Items[0].Code)

	assert.Equal(t, 1, rec.count(), "only the batch that moved something notifies")
}

func TestMoveAcrossDevices(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "src/deep/f.txt", "payload")
	require.NoError(t, os.Symlink("deep/f.txt", filepath.Join(root, "src", "link")))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dest"), 0o755))

	rename = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	defer func() { rename = os.Rename }()

	res := svc.Move(context.Background(), "alice", "dest", []string{"src"})
	require.Equal(t, 1, res.Succeeded, res.Items)

	data, err := os.ReadFile(filepath.Join(root, "dest", "src", "deep", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	target, err := os.Readlink(filepath.Join(root, "dest", "src", "link"))
	require.NoError(t, err)
	assert.Equal(t, "deep/f.txt", target, "symlinks are copied as links")
	assert.NoDirExists(t, filepath.Join(root, "src"))
}

func TestDelete(t *testing.T) {
	svc, root, rec := newService(t)
	write(t, root, "dir/inner/f.txt", "f")
	write(t, root, "file.txt", "x")
	ctx := context.Background()

	r := svc.Delete(ctx, "alice", "dir")
	require.True(t, r.OK, r.Error)
	assert.NoDirExists(t, filepath.Join(root, "dir"))

	r = svc.Delete(ctx, "alice", "file.txt")
	require.True(t, r.OK, r.Error)
	assert.NoFileExists(t, filepath.Join(root, "file.txt"))
	assert.Equal(t, 2, rec.count())

	for rel, code := range map[string]string{
		"":          CodeRootProtected,
		"/":         CodeRootProtected,
		"a/..":      CodeRootProtected,
		"..":        CodePathEscape,
		"gone.txt":  CodeNotFound,
		"../../tmp": CodePathEscape,
	} {
		r := svc.Delete(ctx, "alice", rel)
		assert.Equal(t, code, r.Code, "Delete(%q)", rel)
	}
	assert.Equal(t, 2, rec.count())
	assert.DirExists(t, root)
}

func TestDeleteSymlinkKeepsTarget(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "real/keep.txt", "k")
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	r := svc.Delete(context.Background(), "alice", "alias")
	require.True(t, r.OK, r.Error)
	assert.FileExists(t, filepath.Join(root, "real", "keep.txt"))
	_, err := os.Lstat(filepath.Join(root, "alias"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteBatchSingleNotification(t *testing.T) {
	svc, root, rec := newService(t)
	for _, f := range []string{"1.txt", "2.txt", "3.txt", "d/4.txt", "5.txt"} {
		write(t, root, f, f)
	}

	res := svc.DeleteBatch(context.Background(), "alice", []string{"1.txt", "2.txt", "3.txt", "d", "5.txt"})
	assert.Equal(t, 5, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, rec.count(), "one notification for the whole batch")
	assert.Len(t, rec.last().paths, 5)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteBatchSwallowsItemFailures(t *testing.T) {
	svc, root, rec := newService(t)
	write(t, root, "keep.txt", "k")
	write(t, root, "drop.txt", "d")

	res := svc.DeleteBatch(context.Background(), "alice", []string{"missing", "drop.txt", "../x", ""})
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 1, rec.count())
	assert.FileExists(t, filepath.Join(root, "keep.txt"))

	none := svc.DeleteBatch(context.Background(), "alice", []string{"missing"})
	assert.Equal(t, 1, none.Failed)
	assert.Equal(t, 1, rec.count(), "a batch that removed nothing does not notify")
}

func TestOpen(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "docs/readme.txt", "plain text content")
	require.NoError(t, os.WriteFile(filepath.Join(root, "img.png"),
		[]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644))
	ctx := context.Background()

	f, err := svc.Open(ctx, "alice", "docs/readme.txt")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "readme.txt", f.Name)
	assert.Equal(t, "docs/readme.txt", f.Path)
	assert.Equal(t, int64(18), f.Size)
	assert.True(t, strings.HasPrefix(f.ContentType, "text/plain"), f.ContentType)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "plain text content", string(data), "sniffing must not consume content")

	img, err := svc.Open(ctx, "alice", "img.png")
	require.NoError(t, err)
	img.Close()
	assert.Equal(t, "image/png", img.ContentType)

	_, err = svc.Open(ctx, "alice", "docs")
	assert.ErrorIs(t, err, vfs.ErrInvalidName)
	_, err = svc.Open(ctx, "alice", "nope.txt")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	_, err = svc.Open(ctx, "alice", "../../etc/passwd")
	assert.ErrorIs(t, err, vfs.ErrPathEscape)
}

func TestOpenShared(t *testing.T) {
	svc, root, _ := newService(t)
	write(t, root, "share/a.txt", "A")
	write(t, root, "share/sub/b.txt", "B")
	write(t, root, "single.txt", "S")
	ctx := context.Background()

	sh, err := svc.OpenShared(ctx, "alice", "single.txt")
	require.NoError(t, err)
	require.False(t, sh.IsDir)
	data, err := io.ReadAll(sh.File)
	sh.File.Close()
	require.NoError(t, err)
	assert.Equal(t, "S", string(data))

	sh, err = svc.OpenShared(ctx, "alice", "share")
	require.NoError(t, err)
	require.True(t, sh.IsDir)
	assert.Equal(t, "share", sh.Name)

	var buf bytes.Buffer
	require.NoError(t, sh.WriteZip(&buf))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "sub/", "sub/b.txt"}, names)
}

func TestOpenSharedRevalidates(t *testing.T) {
	svc, root, _ := newService(t)
	outside := filepath.Join(filepath.Dir(root), "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	write(t, root, "doc.txt", "d")
	ctx := context.Background()

	_, err := svc.OpenShared(ctx, "alice", "doc.txt")
	require.NoError(t, err)

	// The target is swapped for a link out of the root after the share was made.
	require.NoError(t, os.Remove(filepath.Join(root, "doc.txt")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "doc.txt")))

	for _, rel := range []string{"doc.txt", "gone.txt", "../outside"} {
		_, err := svc.OpenShared(ctx, "alice", rel)
		assert.ErrorIs(t, err, vfs.ErrNotFound, rel)
		assert.NotErrorIs(t, err, vfs.ErrPathEscape, rel)
	}
}

func TestNilNotifier(t *testing.T) {
	logging.InitNop()
	roots, err := vfs.NewRoots(t.TempDir())
	require.NoError(t, err)
	svc := New(roots, nil)
	r := svc.CreateFolder(context.Background(), "alice", "", "x")
	assert.True(t, r.OK)
}

// Paths that climb out of the tenant root and back in must reach the same
// entry in every operation.
func TestDotDotPathsAddressOneEntry(t *testing.T) {
	svc, root, _ := newService(t)
	ctx := context.Background()

	rel, err := svc.Upload(ctx, "alice", "../alice", "f.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "f.txt", rel)

	r := svc.CreateFolder(ctx, "alice", "../alice", "x")
	require.True(t, r.OK, r.Error)
	assert.Equal(t, "x", r.Path)
	assert.DirExists(t, filepath.Join(root, "x"))
	assert.NoDirExists(t, filepath.Join(root, "alice"))

	r = svc.Rename(ctx, "alice", "../alice", "f.txt", "g.txt")
	require.True(t, r.OK, r.Error)
	assert.FileExists(t, filepath.Join(root, "g.txt"))

	res := svc.Move(ctx, "alice", "../alice/x", []string{"../alice/g.txt"})
	require.Equal(t, 1, res.Succeeded)
	assert.FileExists(t, filepath.Join(root, "x", "g.txt"))

	r = svc.Delete(ctx, "alice", "/../alice/x/g.txt")
	require.True(t, r.OK, r.Error)
	assert.NoFileExists(t, filepath.Join(root, "x", "g.txt"))

	write(t, root, "s.txt", "s")
	sh, err := svc.OpenShared(ctx, "alice", "../alice/s.txt")
	require.NoError(t, err)
	sh.File.Close()
	assert.Equal(t, "s.txt", sh.Path)
}
