package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cpravetz/agentset/internal/apperrors"
)

// respondError translates err to a status code via the apperrors taxonomy
// (spec §7 "User-visible behavior") and writes a JSON error body.
func respondError(c *gin.Context, fallback int, err error) {
	status := fallback
	if kind, ok := apperrors.KindOf(err); ok {
		status = apperrors.HTTPStatus(kind)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
