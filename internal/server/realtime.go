package server

import "github.com/gin-gonic/gin"

// handleRealtime hands the upgrade to the lifecycle handler. /chats/ws/:user_id carries the
// identity the client claims; /ws relies on the resolved credentials alone.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	h.realtime.Serve(c.Writer, c.Request, c.Param("user_id"))
}
