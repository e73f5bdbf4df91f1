package app

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	authhandler "scms-access-service/internal/handlers/auth"
	"scms-access-service/internal/handlers/directory"
	wshandler "scms-access-service/internal/handlers/websocket"
	"scms-access-service/internal/middleware"
	"scms-access-service/internal/pkg/jwt"
	"scms-access-service/internal/pkg/session"
	"scms-access-service/internal/service/access"
	ws "scms-access-service/internal/websocket"
)

// SetupRouter mounts the HTTP surface. Session queries are open because the
// session itself is process-wide; mutation and the directory sit behind the
// token middleware.
func SetupRouter(controller *access.Controller, hub *ws.Hub, jwtManager *jwt.Manager, sessions session.Store, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	authMW := middleware.NewAuthMiddleware(jwtManager.Verifier, sessions)

	authHandler := authhandler.NewAuthHandler(controller, jwtManager, sessions, logger)
	dirHandler := directory.NewDirectoryHandler(controller)
	wsHandler := wshandler.NewWebSocketHandler(hub, logger)

	auth := router.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.GET("/session", authHandler.GetSession)
		auth.GET("/permissions/:token", authHandler.CheckPermission)
		auth.POST("/guard", authHandler.Guard)

		auth.POST("/logout", authMW.Auth(), authHandler.Logout)
	}

	router.GET("/directory", append(authMW.AdminOnly(), dirHandler.ListUsers)...)

	router.GET("/ws", authMW.Auth(), wsHandler.HandleConnection)

	return router
}
