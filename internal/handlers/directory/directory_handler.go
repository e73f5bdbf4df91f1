package directory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scms-access-service/internal/pkg/response"
	"scms-access-service/internal/service/access"
)

// DirectoryHandler exposes the admin-only user directory.
type DirectoryHandler struct {
	controller *access.Controller
}

func NewDirectoryHandler(controller *access.Controller) *DirectoryHandler {
	return &DirectoryHandler{controller: controller}
}

// ListUsers returns the user directory as last refreshed for the admin
// session.
func (h *DirectoryHandler) ListUsers(c *gin.Context) {
	response.Success(c, http.StatusOK, "user directory", h.controller.Directory())
}
