package http

import (
	"embed"
	"html/template"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.html
var templates embed.FS

func SetupRouter(roomController *RoomController, allowedOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	switch {
	case allowAny(allowedOrigins):
		// Any origin may call, but never with the session cookie.
		config.AllowOriginFunc = func(string) bool { return true }
	case len(allowedOrigins) == 0:
		// Same-host requests pass the middleware before this is consulted.
		config.AllowOriginFunc = func(string) bool { return false }
		config.AllowCredentials = true
	default:
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/*.html")))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if roomController != nil {
		router.GET("/", roomController.Index)
		router.POST("/", roomController.IndexSubmit)
		router.GET("/prompt_name", roomController.PromptName)
		router.POST("/prompt_name", roomController.PromptNameSubmit)
		router.GET("/room/:code", roomController.Room)
		router.GET("/room/:code/qr", roomController.RoomQR)
		router.GET("/clear-sesh/:return_file", roomController.ClearSession)
		router.GET("/ws", roomController.ServeWS)

		api := router.Group("/api")
		rooms := api.Group("/rooms")
		rooms.GET("/:code", roomController.GetRoom)
	}

	return router
}

func allowAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
