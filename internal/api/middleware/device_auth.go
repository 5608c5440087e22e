package middleware

import (
	"context"
	"net/http"

	"kidfun/internal/core"

	"github.com/gin-gonic/gin"
)

const (
	// DeviceCodeHeader carries the code a child device authenticates with
	DeviceCodeHeader = "X-Device-Code"
	// DeviceKey is the context key for the resolved *core.Device
	DeviceKey = "device"
	// authenticatedKey marks requests that passed device or parent auth
	authenticatedKey = "authenticated"
)

// DeviceResolver maps a presented code to its device
type DeviceResolver interface {
	Resolve(ctx context.Context, code string) (*core.Device, error)
}

// DeviceAuth authenticates child endpoints by possession of a device code.
// The code comes from the X-Device-Code header, or the device_code query
// parameter for WebSocket upgrades.
func DeviceAuth(resolver DeviceResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.GetHeader(DeviceCodeHeader)
		if code == "" {
			code = c.Query("device_code")
		}
		if code == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{
				Error: "X-Device-Code header required",
				Code:  "AUTH_REQUIRED",
			})
			return
		}

		device, err := resolver.Resolve(c.Request.Context(), code)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(DeviceKey, device)
		c.Set(authenticatedKey, true)
		c.Next()
	}
}

// GetDevice retrieves the authenticated device from context
func GetDevice(c *gin.Context) (*core.Device, bool) {
	value, exists := c.Get(DeviceKey)
	if !exists {
		return nil, false
	}
	device, ok := value.(*core.Device)
	return device, ok
}
