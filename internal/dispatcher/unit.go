package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/execlog"
	"comfybatch/internal/fsutil"
	"comfybatch/internal/workflow"
)

// workflowRun units of one workflow file, executed in order
type workflowRun struct {
	dispatcher *Dispatcher
	descriptor *workflow.Descriptor
	outDir     string
	log        *execlog.ExecutionLog
	logger     *logrus.Entry

	units  int
	failed int
}

// textToImage runs the single unit of a text-to-image workflow
func (r *workflowRun) textToImage(ctx context.Context, baseName string) error {
	return r.unit(ctx, 1, "", r.outputPath(baseName+"_output.png"), "")
}

// imageToImage runs one unit per image under the image directory and returns
// the error of the last failed unit
func (r *workflowRun) imageToImage(ctx context.Context, imageNode string) error {
	imageDir := r.dispatcher.config.ImageDir
	if imageDir == "" {
		return apperrors.Errorf(apperrors.KindValidation, "image-to-image",
			"workflow needs input images but no image directory is configured")
	}

	images, err := fsutil.WalkImages(imageDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		r.logger.WithField("image_dir", imageDir).Warn("No input images found")
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"node_id": imageNode,
		"images":  len(images),
	}).Info("Processing input images")

	var lastErr error
	for i, image := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		output := r.outputPath(strings.TrimSpace(filepath.Base(image)))
		if err := r.unit(ctx, i+1, image, output, imageNode); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (r *workflowRun) outputPath(name string) string {
	path := filepath.Join(r.outDir, name)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// unit executes one unit and appends its record to the execution log
func (r *workflowRun) unit(ctx context.Context, seq int, input, output, imageNode string) error {
	r.units++

	rec := execlog.Record{
		Sequence: seq,
		Input:    execlog.TextToImageInput,
		Output:   output,
	}
	if input != "" {
		rec.Input = input
	}
	if rec.Output == "" {
		rec.Output = execlog.UnknownOutput
	}

	logger := r.logger.WithFields(logrus.Fields{
		"sequence": seq,
		"input":    rec.Input,
	})

	err := r.execute(ctx, &rec, input, imageNode)
	if err != nil {
		r.failed++
		rec.Outcome = execlog.OutcomeFail
		rec.Detail = err.Error()
		logger.WithError(err).Error("Unit failed")
	} else {
		rec.Outcome = execlog.OutcomeSuccess
		logger.WithFields(logrus.Fields{
			"submit":   rec.Submit,
			"generate": rec.Generate,
			"download": rec.Download,
			"total":    rec.Total,
		}).Info("Unit completed")
	}

	if appendErr := r.log.Append(rec); appendErr != nil {
		logger.WithError(appendErr).WithField("path", r.log.Path()).Error("Failed to append execution record")
	}
	return err
}

// execute uploads the input image if any, then submits, awaits and downloads.
// Total covers submit through download.
func (r *workflowRun) execute(ctx context.Context, rec *execlog.Record, input, imageNode string) error {
	d := r.dispatcher

	if input != "" {
		remote, err := d.transfer.Upload(ctx, input, d.config.UploadSubfolder, d.config.Overwrite)
		if err != nil {
			return fmt.Errorf("image upload failed: %w", err)
		}
		if err := r.descriptor.SetImageInput(imageNode, remote); err != nil {
			return err
		}
	}

	start := time.Now()
	promptID, err := d.client.SubmitWorkflow(ctx, r.descriptor)
	rec.Submit = time.Since(start)
	if err != nil {
		return fmt.Errorf("workflow submission failed: %w", err)
	}

	generateStart := time.Now()
	images, err := d.poller.Await(ctx, promptID)
	rec.Generate = time.Since(generateStart)
	if err != nil {
		return fmt.Errorf("waiting for prompt %s failed: %w", promptID, err)
	}

	downloadStart := time.Now()
	written, err := d.transfer.Download(ctx, images, rec.Output)
	rec.Download = time.Since(downloadStart)
	rec.Total = time.Since(start)
	if err != nil {
		return fmt.Errorf("image download failed: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"prompt_id": promptID,
		"files":     written,
	}).Debug("Output images saved")
	return nil
}
