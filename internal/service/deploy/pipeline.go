package deploy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// Pipeline stages in execution order.
const (
	StageStructureCheck      = "structure_check"
	StageInstallDependencies = "install_dependencies"
	StageBuild               = "build"
	StageTest                = "test"
	StageOptimizeAssets      = "optimize_assets"
	StagePublish             = "publish"
	StageStartServices       = "start_services"
)

// Stages lists every pipeline stage in order.
var Stages = []string{
	StageStructureCheck,
	StageInstallDependencies,
	StageBuild,
	StageTest,
	StageOptimizeAssets,
	StagePublish,
	StageStartServices,
}

var stageMessages = map[string]string{
	StageStructureCheck:      "Checking project structure...",
	StageInstallDependencies: "Installing dependencies...",
	StageBuild:               "Building project...",
	StageTest:                "Running tests...",
	StageOptimizeAssets:      "Optimizing assets...",
	StagePublish:             "Deploying to server...",
	StageStartServices:       "Starting services...",
}

// runPipeline executes the stages in order and returns the last stage
// reached alongside the first error.
func (a *Allocator) runPipeline(ctx context.Context, dep domain.Deployment) (string, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for _, stage := range Stages {
		dep.Stage = stage
		start := time.Now()
		a.emit(ctx, dep, "info", stageMessages[stage])

		if a.stageDelay > 0 {
			if timer == nil {
				timer = time.NewTimer(a.stageDelay)
			} else {
				timer.Reset(a.stageDelay)
			}
			select {
			case <-ctx.Done():
				return stage, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return stage, err
		}

		if a.stageHook != nil {
			if err := a.stageHook(ctx, stage, dep); err != nil {
				return stage, err
			}
		}
		a.metrics.observeStage(stage, time.Since(start))
	}
	return StageStartServices, nil
}

func (a *Allocator) emit(ctx context.Context, dep domain.Deployment, level, message string) {
	if a.logs == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"deploymentId": dep.ID,
		"server":       dep.Server,
		"stage":        dep.Stage,
		"status":       dep.Status,
	})
	entry := domain.ProjectLog{
		ProjectID: dep.ProjectID,
		Source:    "pipeline",
		Level:     level,
		Message:   message,
		Metadata:  meta,
		CreatedAt: a.now(),
	}
	if err := a.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn("failed to append pipeline log", "deployment_id", dep.ID, "error", err)
	}
}
