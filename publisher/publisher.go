package publisher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"litflow/generator"
)

// ArchiveName 是下载压缩包的默认文件名。
const ArchiveName = "flowchart_results.zip"

const summarySuffix = ".summary.txt"

// Publisher writes per-item output files into one directory and packs them.
type Publisher struct {
	dir    string
	logger *zap.Logger
}

// New creates a Publisher rooted at dir. Call Prepare before writing.
func New(dir string, logger *zap.Logger) (*Publisher, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{dir: dir, logger: logger}, nil
}

// Dir returns the output directory.
func (p *Publisher) Dir() string { return p.dir }

// Prepare 创建输出目录；目录里已有的文件保持不动。
func (p *Publisher) Prepare() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return generator.Wrap(generator.KindIO, err, "create output dir")
	}
	return nil
}

// ImagePath returns where the rendered image for stem goes.
func (p *Publisher) ImagePath(stem string) string {
	return filepath.Join(p.dir, stem+".png")
}

// SourcePath returns where the diagram source for stem goes.
func (p *Publisher) SourcePath(stem, ext string) string {
	if ext == "" {
		ext = ".mmd"
	}
	return filepath.Join(p.dir, stem+ext)
}

// SummaryPath returns where the summary for stem goes.
func (p *Publisher) SummaryPath(stem string) string {
	return filepath.Join(p.dir, stem+summarySuffix)
}

// WriteSource saves the diagram source.
func (p *Publisher) WriteSource(stem, ext, source string) (string, error) {
	path := p.SourcePath(stem, ext)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", generator.Wrap(generator.KindIO, err, fmt.Sprintf("无法写入图表文件 %s", filepath.Base(path)))
	}
	p.logger.Debug("wrote diagram source", zap.String("path", path))
	return path, nil
}

// WriteSummary saves the summary text.
func (p *Publisher) WriteSummary(stem, summary string) (string, error) {
	path := p.SummaryPath(stem)
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		return "", generator.Wrap(generator.KindIO, err, fmt.Sprintf("无法写入摘要文件 %s", filepath.Base(path)))
	}
	p.logger.Debug("wrote summary", zap.String("path", path))
	return path, nil
}

// BuildArchive packs the given files into an in-memory deflate zip.
// Entries are named by base filename; missing files are skipped with a warning.
func (p *Publisher) BuildArchive(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]bool, len(paths))
	written := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		name := filepath.Base(path)
		if seen[name] {
			continue
		}
		ok, err := addFile(zw, path, name)
		if err != nil {
			_ = zw.Close()
			return nil, generator.Wrap(generator.KindIO, err, "build archive")
		}
		if !ok {
			p.logger.Warn("archive entry missing, skipped", zap.String("path", path))
			continue
		}
		seen[name] = true
		written++
	}
	if err := zw.Close(); err != nil {
		return nil, generator.Wrap(generator.KindIO, err, "build archive")
	}
	p.logger.Info("archive built", zap.Int("entries", written), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, path, name string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, err
	}
	return true, nil
}

// MarkdownToHTML converts summaries, answers and reviews for preview.
func MarkdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
