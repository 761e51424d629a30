package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/tracing"
)

// PidHeader names the process an op request runs in.
const PidHeader = "X-Kernel-Pid"

// CORSConfig says which pages may drive the kernel shim.
type CORSConfig struct {
	// Origins admitted. Empty, or any entry "*", admits every page.
	Origins []string
	// MaxAge is how long a browser may cache a preflight answer.
	MaxAge time.Duration
}

// DefaultCORSConfig admits any page. The shim keeps no session, so there
// is nothing a foreign origin could ride on.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{MaxAge: 12 * time.Hour}
}

func (c CORSConfig) anyOrigin() bool {
	for _, o := range c.Origins {
		if o == "*" {
			return true
		}
	}
	return len(c.Origins) == 0
}

// CORS admits cross-origin calls to the process, op and fs routes and to
// the stream socket. Credentials are never allowed; trace headers are
// exposed so a page can stitch its spans to the kernel's.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			PidHeader,
			tracing.TraceHeader,
			tracing.SpanHeader,
		},
		ExposeHeaders:   []string{tracing.TraceHeader, tracing.SpanHeader},
		AllowWebSockets: true,
		MaxAge:          cfg.MaxAge,
	}
	if cfg.anyOrigin() {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.Origins
	}
	return cors.New(cc)
}
