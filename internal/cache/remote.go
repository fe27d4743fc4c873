package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/orcaman/writerseeker"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"

	"github.com/wireit-go/wireit/internal/graph"
)

// Remote is an HTTP cache backend (the WIREIT_CACHE=github shape named in
// §6, generalized to any HTTP endpoint accepting the same verbs): GET
// restores an archive, PUT uploads one. It is transport-authenticated via
// oauth2 and served over HTTP/2.
type Remote struct {
	baseURL string
	client  *http.Client

	// down latches true on the first connection failure and is never
	// cleared for the remote's lifetime (a deliberately preserved
	// reference-behavior quirk: once the backend is observed to be
	// unreachable, every subsequent call becomes a reportable miss rather
	// than retrying network I/O for the rest of the run).
	mu   sync.Mutex
	down bool
}

// NewRemote constructs a Remote backend talking to baseURL, authenticated
// with creds if non-nil.
func NewRemote(baseURL string, creds *Credentials) *Remote {
	transport := &http2.Transport{}
	var rt http.RoundTripper = transport
	if creds != nil {
		rt = &oauth2.Transport{Source: creds.TokenSource(), Base: transport}
	}
	return &Remote{
		baseURL: baseURL,
		client:  &http.Client{Transport: rt},
	}
}

func (r *Remote) isDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.down
}

func (r *Remote) markDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = true
}

func (r *Remote) objectURL(ref graph.ScriptReference, fingerprintHash string) string {
	return r.baseURL + "/" + url.PathEscape(sanitizeRef(ref)) + "/" + url.PathEscape(fingerprintHash) + ".tar.zst"
}

func (r *Remote) Get(ctx context.Context, ref graph.ScriptReference, fingerprintHash string) (Hit, bool, error) {
	if r.isDown() {
		return nil, false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.objectURL(ref, fingerprintHash), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.markDown()
		return nil, false, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return &remoteHit{archive: body, destDir: ref.PackageDir}, true, nil
}

func (r *Remote) Set(ctx context.Context, ref graph.ScriptReference, fingerprintHash string, outputFiles []string) (bool, error) {
	if r.isDown() {
		return false, nil
	}

	// writerseeker buffers the archive in memory so it can be written
	// sequentially and then read back for the HTTP request body without an
	// intermediate temp file, mirroring the teacher's use of
	// orcaman/writerseeker for staging build output in internal/build.
	var ws writerseeker.WriterSeeker
	zw, err := zstd.NewWriter(&ws)
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.objectURL(ref, fingerprintHash), ws.Reader())
	if err != nil {
		return false, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.markDown()
		return false, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("remote cache upload to %s: unexpected status %s", req.URL, resp.Status)
	}
	return true, nil
}

type remoteHit struct {
	archive []byte
	destDir string
}

func (h *remoteHit) Apply(ctx context.Context) error {
	zr, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer zr.Close()
	if err := zr.Reset(bytes.NewReader(h.archive)); err != nil {
		return err
	}
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
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}
