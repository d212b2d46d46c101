package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "lumenclean/docs"
)

// SetupRoutes builds the gin engine with every route registered
func SetupRoutes(handler *Handler, auth AuthConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	router.GET("/healthz", handler.Health)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(auth))
	{
		conversations := v1.Group("/conversations/:id")
		{
			conversations.GET("", handler.GetConversation)
			conversations.PATCH("/settings", handler.UpdateSettings)
			conversations.POST("/turns", handler.CreateTurn)
			conversations.GET("/turns", handler.ListTurns)
			conversations.GET("/queue", handler.ConversationQueueStatus)
			conversations.GET("/events", handler.StreamEvents)
			conversations.GET("/ws", handler.StreamWebSocket)
		}

		v1.GET("/turns/:id", handler.GetTurn)
		v1.GET("/queue", handler.QueueStatus)
	}

	return router
}
