package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/config"
	"comfybatch/internal/interfaces"
)

// Transfer moves images between the local disk and the ComfyUI server
type Transfer struct {
	client interfaces.ComfyUIClient
	logger *logrus.Logger
}

// New creates an image transfer on top of client
func New(client interfaces.ComfyUIClient) *Transfer {
	return &Transfer{
		client: client,
		logger: config.NewLogger(),
	}
}

// Upload uploads a local image and returns the remote path to reference it by.
// On failure the returned path is empty.
func (t *Transfer) Upload(ctx context.Context, localPath, subfolder string, overwrite bool) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		t.logger.WithError(err).WithField("path", localPath).Error("Upload error")
		return "", apperrors.New(apperrors.KindIO, "upload image", err)
	}
	defer f.Close()

	remote, err := t.client.UploadImage(ctx, filepath.Base(localPath), f, subfolder, overwrite)
	if err != nil {
		t.logger.WithError(err).WithField("path", localPath).Error("Upload error")
		return "", err
	}
	if remote == "" {
		return "", apperrors.Errorf(apperrors.KindProtocol, "upload image", "server returned an empty path for %s", localPath)
	}

	t.logger.WithFields(logrus.Fields{
		"path":        localPath,
		"remote_path": remote,
	}).Info("Image uploaded")
	return remote, nil
}

// SequencedPath inserts _<i> before the extension of dest: foo.png -> foo_0.png
func SequencedPath(dest string, i int) string {
	ext := filepath.Ext(dest)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(dest, ext), i, ext)
}

// Download fetches every image and writes the i-th one to SequencedPath(dest, i).
// A failing image is logged and skipped; an error is returned only when there
// was nothing to download or nothing could be written.
func (t *Transfer) Download(ctx context.Context, images []interfaces.OutputImage, dest string) ([]string, error) {
	const op = "download images"

	if len(images) == 0 {
		return nil, apperrors.Errorf(apperrors.KindProtocol, op, "job produced no images")
	}

	var (
		written []string
		errs    []error
	)
	for i, image := range images {
		path := SequencedPath(dest, i)
		if err := t.downloadOne(ctx, image, path); err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"filename": image.Filename,
				"path":     path,
			}).Error("Download failed")
			errs = append(errs, err)
			continue
		}
		written = append(written, path)
	}

	if len(written) == 0 {
		return nil, fmt.Errorf("%s: none of %d images could be saved: %w", op, len(images), errors.Join(errs...))
	}
	return written, nil
}

func (t *Transfer) downloadOne(ctx context.Context, image interfaces.OutputImage, path string) error {
	data, err := t.client.ViewImage(ctx, image)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.New(apperrors.KindIO, "write image", err)
	}
	return nil
}
