package cache

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"

	"github.com/wireit-go/wireit/internal/graph"
)

// Local is a filesystem cache backend: one tar+zstd archive per (script,
// fingerprint hash), written atomically via renameio so a crash mid-write
// never leaves a corrupt archive visible under its final name. This mirrors
// the teacher's use of renameio.TempFile/CloseAtomicallyReplace throughout
// internal/build/build.go for every output it writes.
type Local struct {
	root string
}

// NewLocal returns a Local cache rooted at dir (created lazily on first
// Set).
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

func (l *Local) archivePath(ref graph.ScriptReference, fingerprintHash string) string {
	return filepath.Join(l.root, sanitizeRef(ref), fingerprintHash+".tar.zst")
}

func sanitizeRef(ref graph.ScriptReference) string {
	s := ref.String()
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	s = strings.ReplaceAll(s, "\x1f", "_")
	return s
}

func (l *Local) Get(ctx context.Context, ref graph.ScriptReference, fingerprintHash string) (Hit, bool, error) {
	path := l.archivePath(ref, fingerprintHash)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &localHit{archivePath: path, destDir: ref.PackageDir}, true, nil
}

func (l *Local) Set(ctx context.Context, ref graph.ScriptReference, fingerprintHash string, outputFiles []string) (bool, error) {
	path := l.archivePath(ref, fingerprintHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}

	pending, err := renameio.TempFile("", path)
	if err != nil {
		return false, err
	}
	defer pending.Cleanup()

	zw, err := zstd.NewWriter(pending)
	if err != nil {
		return false, err
	}
	tw := tar.NewWriter(zw)
	for _, rel := range outputFiles {
		if err := addTarFile(tw, filepath.Join(ref.PackageDir, rel), rel); err != nil {
			return false, err
		}
	}
	if err := tw.Close(); err != nil {
		return false, err
	}
	if err := zw.Close(); err != nil {
		return false, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return false, err
	}
	return true, nil
}

func addTarFile(tw *tar.Writer, full, rel string) error {
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// localHit extracts a cached archive into destDir on Apply.
type localHit struct {
	archivePath string
	destDir     string
}

func (h *localHit) Apply(ctx context.Context) error {
	f, err := os.Open(h.archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dest := filepath.Join(h.destDir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		out, err := renameio.TempFile("", dest)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Cleanup()
			return err
		}
		if err := out.CloseAtomicallyReplace(); err != nil {
			return err
		}
	}
}
