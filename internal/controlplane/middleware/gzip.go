package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// The websocket upgrade must bypass compression; everything else the API
// serves is JSON and compresses well.
var excludedPaths = []string{
	"/v1/logs/ws",
}

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.DefaultCompression,
		gzip.WithExcludedPaths(excludedPaths),
	)
}
