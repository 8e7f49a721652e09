package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"comfybatch/internal/apperrors"
)

// ImageExtensions extensions of input images, compared case-insensitively
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".webp"}

// LogSuffix suffix of a per-workflow execution log: a.json -> a.json.csv
const LogSuffix = ".csv"

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// IsImage reports whether name is a non-hidden file with an image extension
func IsImage(name string) bool {
	if isHidden(name) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsWorkflow reports whether name is a non-hidden .json file
func IsWorkflow(name string) bool {
	return !isHidden(name) && strings.HasSuffix(name, ".json")
}

// ListWorkflowFiles returns the names of the workflow files directly in dir, sorted
func ListWorkflowFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.New(apperrors.KindIO, "list workflows", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsWorkflow(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WalkImages returns every image under dir, recursively, in lexical walk order
func WalkImages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImage(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindIO, "walk images", err)
	}
	return paths, nil
}

// CopyPreserve copies src into dstDir under the same name, keeping mode and
// modification time, and returns the destination path
func CopyPreserve(src, dstDir string) (string, error) {
	const op = "copy file"

	info, err := os.Stat(src)
	if err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	defer in.Close()

	dst := filepath.Join(dstDir, filepath.Base(src))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	if err := out.Close(); err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	return dst, nil
}

// FindUnprocessed returns the workflow files of workflowDir with no execution log in logDir
func FindUnprocessed(workflowDir, logDir string) ([]string, error) {
	names, err := ListWorkflowFiles(workflowDir)
	if err != nil {
		return nil, err
	}

	var unprocessed []string
	for _, name := range names {
		_, err := os.Stat(filepath.Join(logDir, name+LogSuffix))
		switch {
		case err == nil:
		case os.IsNotExist(err):
			unprocessed = append(unprocessed, name)
		default:
			return nil, apperrors.New(apperrors.KindIO, "find unprocessed", err)
		}
	}
	return unprocessed, nil
}
