package mirror

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/config"
	"sitemirror/pkg/extract"
	"sitemirror/pkg/utils"
)

const indexDocument = "index.html"

// Writer maps remote URLs to local paths under the output directory and
// writes fetched bodies to disk. Writes go through a temp file and a
// rename so an interrupted run never leaves partial files.
type Writer struct {
	outputDir string // Absolute path of the output root
	cfg       *config.Config
	log       *logrus.Entry

	mu         sync.Mutex
	pathsByURL map[string]string // normalized URL -> absolute local path
	urlsByPath map[string]string // absolute local path -> first URL assigned
}

// NewWriter creates the output directory and returns a Writer.
func NewWriter(cfg *config.Config, log *logrus.Entry) (*Writer, error) {
	absOutput, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve output directory %q: %v", utils.ErrFilesystem, cfg.OutputDir, err)
	}
	if err := os.MkdirAll(absOutput, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create output directory %q: %v", utils.ErrFilesystem, absOutput, err)
	}
	return &Writer{
		outputDir:  absOutput,
		cfg:        cfg,
		log:        log,
		pathsByURL: make(map[string]string),
		urlsByPath: make(map[string]string),
	}, nil
}

// OutputDir returns the absolute output root.
func (w *Writer) OutputDir() string {
	return w.outputDir
}

// hostDir returns the sanitized directory name for a URL's host.
func hostDir(u *url.URL) string {
	return utils.SanitizeFilename(u.Host)
}

// keepPath builds the keep-mode relative path: the remote path mirrored
// under the host directory, with an index document suffix for directory
// style URLs.
func keepPath(u *url.URL, isPage bool) string {
	p := u.Path
	if isPage {
		switch {
		case p == "" || strings.HasSuffix(p, "/"):
			p += indexDocument
		case path.Ext(p) == "":
			p += "/" + indexDocument
		}
	} else if p == "" || strings.HasSuffix(p, "/") {
		p += indexDocument
	}

	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = utils.SanitizeFilename(seg)
	}
	return filepath.Join(append([]string{hostDir(u)}, segments...)...)
}

// flattenPath builds the flatten-mode relative path: css and js grouped
// into per-type subdirectories under the host, everything else directly
// under the host directory.
func flattenPath(u *url.URL, isPage bool, kind extract.Kind) string {
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		name = indexDocument
	}
	if isPage && path.Ext(name) == "" {
		name += ".html"
	}
	name = utils.SanitizeFilename(name)

	switch {
	case !isPage && kind == extract.KindCSS:
		return filepath.Join(hostDir(u), "css", name)
	case !isPage && kind == extract.KindJS:
		return filepath.Join(hostDir(u), "js", name)
	default:
		return filepath.Join(hostDir(u), name)
	}
}

// LocalPath assigns (or returns the already-assigned) absolute local
// path for a URL. In flatten mode with dedupe enabled, filename
// collisions between distinct URLs get a short URL-hash suffix; without
// dedupe, collisions are last-write-wins.
func (w *Writer) LocalPath(u *url.URL, isPage bool, kind extract.Kind) (string, error) {
	normalized := u.String()

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pathsByURL[normalized]; ok {
		return existing, nil
	}

	var rel string
	if w.cfg.Layout == config.LayoutFlatten {
		rel = flattenPath(u, isPage, kind)
	} else {
		rel = keepPath(u, isPage)
	}

	abs := filepath.Join(w.outputDir, rel)

	// Containment check: the cleaned path must stay under the output root
	if abs != w.outputDir && !strings.HasPrefix(abs, w.outputDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes output directory", utils.ErrFilesystem, rel)
	}

	if w.cfg.Layout == config.LayoutFlatten && w.cfg.FlattenDedupe {
		if firstURL, taken := w.urlsByPath[abs]; taken && firstURL != normalized {
			ext := filepath.Ext(abs)
			abs = strings.TrimSuffix(abs, ext) + "-" + utils.ShortHash(normalized) + ext
		}
	}

	w.pathsByURL[normalized] = abs
	if _, taken := w.urlsByPath[abs]; !taken {
		w.urlsByPath[abs] = normalized
	}
	return abs, nil
}

// Save assigns a local path for the URL and writes body to it
// atomically. Returns the absolute path written.
func (w *Writer) Save(u *url.URL, isPage bool, kind extract.Kind, body []byte) (string, error) {
	localPath, err := w.LocalPath(u, isPage, kind)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(localPath, body); err != nil {
		return "", err
	}

	w.log.WithFields(logrus.Fields{"url": u.String(), "path": localPath}).Debug("Saved file")
	return localPath, nil
}

// writeFileAtomic writes body to a temp file in the target directory and
// renames it into place, so readers never observe a partial file.
func writeFileAtomic(localPath string, body []byte) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: cannot create directory %q: %v", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sitemirror-*")
	if err != nil {
		return fmt.Errorf("%w: cannot create temp file in %q: %v", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write failed for %q: %v", utils.ErrFilesystem, localPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close failed for %q: %v", utils.ErrFilesystem, localPath, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename failed for %q: %v", utils.ErrFilesystem, localPath, err)
	}
	return nil
}

// Mirrored returns a copy of the URL to local path mapping for the
// rewrite pass.
func (w *Writer) Mirrored() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.pathsByURL))
	for u, p := range w.pathsByURL {
		out[u] = p
	}
	return out
}
