package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/config"
	"comfybatch/internal/execlog"
	"comfybatch/internal/fsutil"
	"comfybatch/internal/interfaces"
	"comfybatch/internal/progress"
	"comfybatch/internal/transfer"
	"comfybatch/internal/workflow"
)

// Failure stages recorded in the error log
const (
	StageInit         = "workflow initialization"
	StageFileRead     = "file read/parse"
	StageOutputDir    = "output directory"
	StageTextToImage  = "text-to-image processing"
	StageImageToImage = "image-to-image processing"
)

// Dispatcher batch driver, runs every workflow file of a directory against one server
type Dispatcher struct {
	client   interfaces.ComfyUIClient
	transfer *transfer.Transfer
	poller   *Poller
	store    interfaces.ProgressStore
	config   config.BatchConfig
	logger   *logrus.Logger
}

// NewDispatcher creates a batch driver
func NewDispatcher(
	client interfaces.ComfyUIClient,
	poller *Poller,
	store interfaces.ProgressStore,
	cfg config.BatchConfig,
) *Dispatcher {
	return &Dispatcher{
		client:   client,
		transfer: transfer.New(client),
		poller:   poller,
		store:    store,
		config:   cfg,
		logger:   config.NewLogger(),
	}
}

// workflowFailure workflow-level failure
type workflowFailure struct {
	stage string
	err   error
}

// workflowResult outcome of one workflow file
type workflowResult struct {
	typ         workflow.Type
	units       int
	unitsFailed int
	cancelled   bool
	failure     *workflowFailure
}

// Run processes every workflow file in name order and returns the run summary.
// Per-workflow failures are recorded and never abort the run; an error is
// returned only when the run cannot start.
func (d *Dispatcher) Run(ctx context.Context) (*progress.RunSummary, error) {
	names, err := fsutil.ListWorkflowFiles(d.config.WorkflowDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow directory: %w", err)
	}
	if err := os.MkdirAll(d.config.QuarantineDir, 0o755); err != nil {
		return nil, apperrors.New(apperrors.KindIO, "create quarantine directory", err)
	}
	errorLog, err := execlog.OpenErrorLog(d.config.ErrorLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	if err := d.client.HealthCheck(ctx); err != nil {
		d.logger.WithError(err).Warn("Server health check failed, continuing")
	}

	summary := progress.NewRunSummary(len(names))
	d.saveSummary(ctx, summary)

	d.logger.WithFields(logrus.Fields{
		"run_id":       summary.RunID,
		"workflows":    len(names),
		"workflow_dir": d.config.WorkflowDir,
	}).Info("Starting batch run")

	for i, name := range names {
		if ctx.Err() != nil {
			d.logger.WithField("remaining", len(names)-i).Warn("Run cancelled, skipping remaining workflows")
			break
		}

		d.logger.WithFields(logrus.Fields{
			"workflow": name,
			"index":    i + 1,
			"total":    len(names),
		}).Info("Processing workflow")

		wp := progress.NewWorkflowProgress(summary.RunID, name)
		d.saveWorkflow(ctx, wp)

		result := d.processWorkflow(ctx, wp, name)
		d.record(ctx, summary, wp, errorLog, name, result)
		d.saveSummary(ctx, summary)
	}

	summary.Finish()
	d.saveSummary(context.WithoutCancel(ctx), summary)

	d.logger.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Info("Batch run finished")
	return summary, nil
}

// record folds the result of one workflow into the summary, the progress store
// and, for failures, the quarantine directory and the error log
func (d *Dispatcher) record(ctx context.Context, summary *progress.RunSummary, wp *progress.WorkflowProgress,
	errorLog *execlog.ErrorLog, name string, result workflowResult) {
	switch result.typ {
	case workflow.TypeTextToImage:
		summary.TextToImage++
	case workflow.TypeImageToImage:
		summary.ImageToImage++
	}
	summary.UnitsSucceeded += result.units - result.unitsFailed
	summary.UnitsFailed += result.unitsFailed

	wp.Type = string(result.typ)
	wp.Units = result.units
	wp.UnitsFailed = result.unitsFailed

	storeCtx := context.WithoutCancel(ctx)
	switch {
	case result.cancelled:
		wp.MarkFailed("cancelled", context.Canceled.Error())
	case result.failure != nil:
		summary.Failed++
		wp.MarkFailed(result.failure.stage, result.failure.err.Error())
		d.quarantine(errorLog, name, result)
	default:
		summary.Succeeded++
		wp.MarkCompleted()
	}
	d.saveWorkflow(storeCtx, wp)
}

// quarantine copies the failed workflow file aside and appends an error entry
func (d *Dispatcher) quarantine(errorLog *execlog.ErrorLog, name string, result workflowResult) {
	logger := d.logger.WithFields(logrus.Fields{
		"workflow": name,
		"stage":    result.failure.stage,
	})
	logger.WithError(result.failure.err).Error("Workflow failed")

	src := filepath.Join(d.config.WorkflowDir, name)
	if dst, err := fsutil.CopyPreserve(src, d.config.QuarantineDir); err != nil {
		logger.WithError(err).Error("Failed to quarantine workflow")
	} else {
		logger.WithField("path", dst).Info("Workflow quarantined")
	}

	entry := execlog.ErrorEntry{
		Workflow: name,
		Time:     time.Now(),
		Type:     string(result.typ),
		Stage:    result.failure.stage,
		Message:  result.failure.err.Error(),
	}
	if err := errorLog.Append(entry); err != nil {
		logger.WithError(err).Error("Failed to append error log entry")
	}
}

// processWorkflow runs every unit of one workflow file
func (d *Dispatcher) processWorkflow(ctx context.Context, wp *progress.WorkflowProgress, name string) (result workflowResult) {
	result.typ = workflow.TypeUnknown
	stage := StageInit
	defer func() {
		if r := recover(); r != nil {
			result.failure = &workflowFailure{stage: stage, err: fmt.Errorf("unexpected panic: %v", r)}
		}
	}()

	stage = StageFileRead
	descriptor, err := workflow.Load(filepath.Join(d.config.WorkflowDir, name))
	if err != nil {
		result.failure = &workflowFailure{stage: stage, err: err}
		return result
	}

	stage = StageOutputDir
	baseName := strings.TrimSuffix(name, filepath.Ext(name))
	outDir := filepath.Join(d.config.OutputDir, baseName)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		result.failure = &workflowFailure{stage: stage, err: apperrors.New(apperrors.KindIO, "create output directory", err)}
		return result
	}

	typ, imageNode := workflow.Classify(descriptor)
	result.typ = typ
	wp.MarkRunning(string(typ))
	d.saveWorkflow(ctx, wp)

	run := &workflowRun{
		dispatcher: d,
		descriptor: descriptor,
		outDir:     outDir,
		log:        execlog.NewExecutionLog(filepath.Join(d.config.LogDir, name+fsutil.LogSuffix)),
		logger:     d.logger.WithFields(logrus.Fields{"workflow": name, "type": typ}),
	}

	var lastErr error
	switch typ {
	case workflow.TypeTextToImage:
		stage = StageTextToImage
		lastErr = run.textToImage(ctx, baseName)
	case workflow.TypeImageToImage:
		stage = StageImageToImage
		if nodes := workflow.ImageInputNodes(descriptor); len(nodes) > 1 {
			run.logger.WithFields(logrus.Fields{
				"node_id":     imageNode,
				"image_nodes": nodes,
			}).Warn("Multiple image input nodes found, using the first")
		}
		lastErr = run.imageToImage(ctx, imageNode)
	}

	result.units = run.units
	result.unitsFailed = run.failed
	if lastErr != nil && ctx.Err() != nil {
		result.cancelled = true
		return result
	}
	if lastErr != nil {
		result.failure = &workflowFailure{stage: stage, err: lastErr}
	}
	return result
}

func (d *Dispatcher) saveSummary(ctx context.Context, summary *progress.RunSummary) {
	if err := d.store.SaveSummary(ctx, summary); err != nil {
		d.logger.WithError(err).WithField("run_id", summary.RunID).Warn("Failed to save run summary")
	}
}

func (d *Dispatcher) saveWorkflow(ctx context.Context, wp *progress.WorkflowProgress) {
	if err := d.store.SaveWorkflow(ctx, wp); err != nil {
		d.logger.WithError(err).WithField("workflow", wp.Workflow).Warn("Failed to save workflow progress")
	}
}
