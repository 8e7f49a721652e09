package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"comfybatch/internal/interfaces"
)

// NewServer creates the status HTTP server listening on addr
func NewServer(addr string, store interfaces.ProgressStore) *http.Server {
	router := gin.Default()
	NewHandler(store).RegisterRoutes(router)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
