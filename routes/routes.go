package routes

import (
	"stockscreener/controllers"

	"github.com/gin-gonic/gin"
)

func Routes(r *gin.Engine) {

	v1 := r.Group("/api")

	{
		v1.GET("/keepServerRunning", controllers.HealthController.IsRunning)
		v1.POST("/pipeline/run", controllers.PipelineController.RunFull)
		v1.POST("/pipeline/runTest", controllers.PipelineController.RunTest)
		v1.GET("/pipeline/summary", controllers.PipelineController.LastSummary)
		v1.POST("/universe/rebuild", controllers.PipelineController.RebuildUniverse)
	}
}
