package handlers

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/jeremyjsx/entries-site/internal/posts"
	"github.com/jeremyjsx/entries-site/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultHealthTimeout = 5 * time.Second

// HealthDeps lists what /health probes. Nil or empty fields are skipped.
type HealthDeps struct {
	Cache       *posts.Cache
	DB          *sql.DB
	Storage     storage.Storage
	RabbitMQURL string
	// Timeout bounds all dependency checks of one request. Zero means 5s.
	Timeout time.Duration
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func Health(deps *HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeout := deps.Timeout
		if timeout <= 0 {
			timeout = defaultHealthTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks := map[string]string{}
		status := "healthy"

		// The cache is never loaded by a probe; it only reports.
		switch phase := deps.Cache.State().Phase(); phase {
		case posts.PhaseFailed:
			checks["posts"] = string(phase)
			status = "unhealthy"
		case posts.PhaseStale:
			checks["posts"] = string(phase)
			status = "degraded"
		default:
			checks["posts"] = string(phase)
		}

		if deps.DB != nil {
			if err := deps.DB.PingContext(ctx); err != nil {
				checks["db"] = "unhealthy"
				status = worst(status, "degraded")
			} else {
				checks["db"] = "ok"
			}
		} else {
			checks["db"] = "skipped"
		}

		if deps.Storage != nil {
			if _, err := deps.Storage.Exists(ctx, "__health__"); err != nil {
				checks["s3"] = "unhealthy"
				status = worst(status, "degraded")
			} else {
				checks["s3"] = "ok"
			}
		} else {
			checks["s3"] = "skipped"
		}

		if deps.RabbitMQURL != "" {
			if err := pingRabbitMQ(ctx, deps.RabbitMQURL); err != nil {
				checks["rabbitmq"] = "unhealthy"
				status = worst(status, "degraded")
			} else {
				checks["rabbitmq"] = "ok"
			}
		} else {
			checks["rabbitmq"] = "skipped"
		}

		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, healthResponse{Status: status, Checks: checks})
	}
}

func worst(current, next string) string {
	if current == "unhealthy" {
		return current
	}
	return next
}

// pingRabbitMQ opens and closes a broker connection. Both the TCP connect
// and the AMQP handshake stop at the ctx deadline.
func pingRabbitMQ(ctx context.Context, url string) error {
	deadline, _ := ctx.Deadline()
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the handshake completes.
			if err := c.SetDeadline(deadline); err != nil {
				_ = c.Close()
				return nil, err
			}
			return c, nil
		},
	})
	if err != nil {
		return err
	}
	return conn.Close()
}
