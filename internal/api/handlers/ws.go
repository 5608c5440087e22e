package handlers

import (
	"log/slog"
	"net/http"

	"kidfun/internal/realtime"

	"github.com/gin-gonic/gin"
)

// serveChannel hands the connection to the family channel. The upgrade must
// hijack the raw writer: gin's writer flushes its header first and then
// refuses to be hijacked.
func serveChannel(c *gin.Context, channel *realtime.Channel, member realtime.Member, logger *slog.Logger) {
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	realtime.Serve(w, c.Request, channel, member, logger)
}
