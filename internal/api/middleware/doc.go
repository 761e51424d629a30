// Package middleware holds the gin middleware in front of the kernel's HTTP
// shim: CORS for pages served from other origins and per-client token bucket
// rate limiting. Rejections use the same error envelope ops return.
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
