// Package loader reads documents from disk into models.Document values.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/kotaeru/internal/docid"
	"github.com/hyperjump/kotaeru/internal/extract"
	"github.com/hyperjump/kotaeru/internal/models"
	"go.uber.org/zap"
)

// Metadata keys attached to every loaded document.
const (
	MetaKeySource      = "source"
	MetaKeySourcePath  = "source_path"
	MetaKeySourceMtime = "source_mtime"
	MetaKeySourceSize  = "source_size"
)

// Loader reads files from disk, extracts their text, and produces documents
// with stable IDs and source metadata.
type Loader struct {
	extractor *extract.Extractor
	logger    *zap.Logger // optional; when set, logs debug events
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for debug output (file loaded, file skipped, etc.).
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// New creates a loader. extractor may be nil; when nil, all files are read
// as plain text.
func New(extractor *extract.Extractor, opts ...LoaderOption) *Loader {
	ld := &Loader{extractor: extractor}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// LoadFile reads a single file and returns it as a document. The document ID
// is derived from the absolute path so re-loading the same file yields the
// same ID. Returns an error if the path is not a regular file or extraction
// fails.
func (ld *Loader) LoadFile(path string) (*models.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	text, err := ld.extractContent(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	doc := &models.Document{
		ID:         docid.FromPath(absPath),
		SourcePath: absPath,
		Text:       text,
		Metadata: map[string]string{
			MetaKeySource:     filepath.Base(absPath),
			MetaKeySourcePath: absPath,
			// Stored as strings to avoid JSON float64 precision loss (UnixNano exceeds 53 bits).
			MetaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			MetaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	if ld.logger != nil {
		ld.logger.Debug("loader file loaded",
			zap.String("path", absPath),
			zap.String("doc_id", doc.ID),
			zap.Int("chars", len(text)))
	}
	return doc, nil
}

// LoadDirectory walks dir recursively and loads each regular file whose
// extension matches glob. glob is a filename pattern like "*.txt" or
// "**/*.md"; a leading "**/" matches any depth. An empty glob loads every
// file. Files that fail extraction are skipped with a debug log rather than
// aborting the walk; the first filesystem error aborts.
func (ld *Loader) LoadDirectory(dir, glob string) ([]*models.Document, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	pattern := strings.TrimPrefix(glob, "**/")
	var docs []*models.Document
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if pattern != "" {
			match, matchErr := filepath.Match(pattern, d.Name())
			if matchErr != nil {
				return fmt.Errorf("bad glob %q: %w", glob, matchErr)
			}
			if !match {
				return nil
			}
		}
		// Resolve symlinks so we only load regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil {
			return nil
		}
		if !finfo.Mode().IsRegular() {
			return nil
		}
		doc, loadErr := ld.LoadFile(path)
		if loadErr != nil {
			if ld.logger != nil {
				ld.logger.Debug("loader skipping file", zap.String("path", path), zap.Error(loadErr))
			}
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (ld *Loader) extractContent(path string) (string, error) {
	if ld.extractor != nil {
		return ld.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
