package controllers

import (
	"context"
	"path/filepath"
	"stockscreener/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PipelineControllerI interface {
	RunFull(ctx *gin.Context)
	RunTest(ctx *gin.Context)
	LastSummary(ctx *gin.Context)
	RebuildUniverse(ctx *gin.Context)
}

type pipelineController struct{}

var PipelineController PipelineControllerI = &pipelineController{}

// RunFull kicks off a production run in the background. Configuration is
// validated up front so a bad setup fails the request, not the run.
func (p *pipelineController) RunFull(ctx *gin.Context) {
	if _, err := services.ConfigFromEnv(); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	zap.L().Info("Full pipeline run triggered via API")
	go func() {
		if _, err := services.PipelineService.RunFull(context.Background()); err != nil {
			zap.L().Error("Pipeline run failed", zap.Error(err))
		}
	}()

	ctx.JSON(202, gin.H{
		"message": "Pipeline run started",
		"status":  "running",
	})
}

// RunTest runs the small-batch verification pipeline synchronously and
// returns its summary.
func (p *pipelineController) RunTest(ctx *gin.Context) {
	summary, err := services.PipelineService.RunTest(ctx.Request.Context())
	if err != nil {
		status := 500
		if summary == nil {
			status = 400
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(200, summary)
}

// LastSummary reports the most recent run's aggregate counts.
func (p *pipelineController) LastSummary(ctx *gin.Context) {
	summary := services.PipelineService.LastSummary()
	if summary == nil {
		ctx.JSON(404, gin.H{"error": "No pipeline run has completed yet"})
		return
	}
	ctx.JSON(200, summary)
}

// RebuildUniverse merges the vendor NSE/BSE equity lists into a fresh
// universe table.
func (p *pipelineController) RebuildUniverse(ctx *gin.Context) {
	var req struct {
		NSEPath string `json:"nsePath" binding:"required"`
		BSEPath string `json:"bsePath" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": "nsePath and bsePath are required"})
		return
	}

	universe, err := services.BuildUniverse(req.NSEPath, req.BSEPath)
	if err != nil {
		ctx.JSON(500, gin.H{"error": err.Error()})
		return
	}

	cfg, err := services.ConfigFromEnv()
	if err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}
	outPath := filepath.Join(cfg.DataDir, services.UniverseFile)
	if err := services.SaveUniverse(outPath, universe); err != nil {
		ctx.JSON(500, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"message": "Universe rebuilt",
		"tickers": len(universe),
		"path":    outPath,
	})
}
