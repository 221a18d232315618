package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
)

// Local is the single-directory gateway: references are file names under its
// root. It backs single-node deployments and tests.
type Local struct {
	root     string
	baseURL  string
	maxInput datasize.ByteSize
}

// NewLocal creates the root directory if needed. baseURL is the externally
// visible prefix download URLs are built on; maxInput of zero disables the
// input size limit.
func NewLocal(root, baseURL string, maxInput datasize.ByteSize) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{
		root:     root,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxInput: maxInput,
	}, nil
}

// resolve keeps references inside the root.
func (l *Local) resolve(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Fetch(ctx context.Context, ref, localPath string) error {
	src, err := l.resolve(ref)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return err
	}
	if l.maxInput > 0 && datasize.ByteSize(info.Size()) > l.maxInput {
		return fmt.Errorf("%w: %s is %s, limit %s",
			ErrTooLarge, ref, datasize.ByteSize(info.Size()).HumanReadable(), l.maxInput.HumanReadable())
	}
	return copyFile(src, localPath)
}

func (l *Local) Store(ctx context.Context, localPath, hint string) (string, error) {
	ref := filepath.Base(hint)
	if ref == "" || ref == "." || ref == string(filepath.Separator) {
		return "", fmt.Errorf("%w: unusable hint %q", ErrBadRef, hint)
	}
	if err := copyFile(localPath, filepath.Join(l.root, ref)); err != nil {
		return "", err
	}
	return ref, nil
}

func (l *Local) DownloadURL(ctx context.Context, ref string) (string, error) {
	if _, err := l.resolve(ref); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/v1/files/%s", l.baseURL, ref), nil
}

// LocalPath resolves a ref to its on-disk path for direct serving. Only the
// local backend offers this; remote backends hand out download URLs instead.
func (l *Local) LocalPath(ref string) (string, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	} else if err != nil {
		return "", err
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
