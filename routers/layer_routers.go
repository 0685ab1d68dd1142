package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/GrainArc/LayerSync/metrics"
	"github.com/GrainArc/LayerSync/views"
)

func LayerRouters(r *gin.Engine, handler *views.LayerHandler, check views.EditorCheck) {
	editor := views.RequireEditor(check)

	layerRouter := r.Group("/layers", editor)
	{
		layerRouter.POST("", handler.CreateLayer)
		layerRouter.PUT("/:id/areas", handler.UpdateAreas)
		layerRouter.DELETE("/:id", handler.DeleteLayer)
		layerRouter.PATCH("/:id/visibility", handler.SetVisibility)
		layerRouter.POST("/:id/cache/invalidate", handler.InvalidateCache)
	}
	areaRouter := r.Group("/areas", editor)
	{
		areaRouter.POST("/:id/pictures", handler.AddPicture)
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}
