package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/service"
)

type JwtCustomClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type ServerConfig struct {
	// JWTSecret enables bearer token auth; without it every request acts as System.
	JWTSecret string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// NewServer builds the echo instance with middleware and all ledger routes.
func NewServer(ledger *service.FulfillmentService, cfg ServerConfig) *echo.Echo {
	orderHandler := NewOrderHandler(ledger)
	ledgerHandler := NewLedgerHandler(ledger)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig(cfg)))
	}

	e.GET("/orders/health", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"status":  "ok",
			"service": "fulfillment-ledger",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	var auth []echo.MiddlewareFunc
	if cfg.JWTSecret != "" {
		auth = append(auth, echojwt.WithConfig(echojwt.Config{
			SigningKey: []byte(cfg.JWTSecret),
			NewClaimsFunc: func(c echo.Context) jwt.Claims {
				return new(JwtCustomClaims)
			},
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(401, map[string]string{"error": "Unauthorized"})
			},
		}))
	}

	e.POST("/orders", orderHandler.CreateOrder, auth...)
	e.GET("/orders", orderHandler.ListOrders, auth...)
	e.GET("/orders/:id", orderHandler.GetOrder, auth...)
	e.PUT("/orders/:id", orderHandler.UpdateOrder, auth...)
	e.DELETE("/orders/:id", orderHandler.CancelOrder, auth...)

	e.GET("/notifications", ledgerHandler.Notifications, auth...)
	e.GET("/notifications/unread", ledgerHandler.UnreadNotifications, auth...)
	e.POST("/notifications/read", ledgerHandler.MarkNotificationsRead, auth...)
	e.GET("/sales-logs", ledgerHandler.SalesLogs, auth...)
	e.GET("/products/:id/stock", ledgerHandler.ProductStock, auth...)

	return e
}

func rateLimiterConfig(cfg ServerConfig) middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
	}
}

// actorFrom resolves the acting identity from the verified token, if any.
func actorFrom(c echo.Context) entity.ActorRef {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil {
		return entity.System
	}
	claims, ok := token.Claims.(*JwtCustomClaims)
	if !ok || claims.Subject == "" {
		return entity.System
	}
	return entity.ActorRef{ID: claims.Subject, Name: claims.Name, Email: claims.Email}
}
