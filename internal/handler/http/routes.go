package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 挂载 REST 路由。authMW 保护除注册、登录之外的接口。
func RegisterRoutes(router gin.IRouter, auth *AuthHandler, rooms *RoomHandler, authMW gin.HandlerFunc) {
	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", auth.Register)
		authRoutes.POST("/login", auth.Login)
	}
	roomRoutes := api.Group("/rooms", authMW)
	{
		roomRoutes.GET("", rooms.ListRooms)
		roomRoutes.POST("", rooms.CreateRoom)
		roomRoutes.POST("/join", rooms.JoinRoom)
		roomRoutes.GET("/preview/:code", rooms.PreviewRoom)
		roomRoutes.GET("/:roomId", rooms.GetRoom)
		roomRoutes.DELETE("/:roomId", rooms.DeleteRoom)
		roomRoutes.POST("/:roomId/leave", rooms.LeaveRoom)
		roomRoutes.POST("/:roomId/weather", rooms.RefreshWeather)
		roomRoutes.GET("/:roomId/export", rooms.ExportPackingList)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
}
