// Package app assembles the domain services shared by the api and
// cron-worker binaries.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tradehub-backend/internal/billing"
	"github.com/angelmondragon/tradehub-backend/internal/cart"
	"github.com/angelmondragon/tradehub-backend/internal/inventory"
	"github.com/angelmondragon/tradehub-backend/internal/orders"
	"github.com/angelmondragon/tradehub-backend/internal/payments"
	"github.com/angelmondragon/tradehub-backend/internal/products"
	"github.com/angelmondragon/tradehub-backend/internal/subscriptions"
	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/redis"
)

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Gateway    payments.Gateway
	Registerer prometheus.Registerer
}

type Services struct {
	Cart          cart.Service
	Orders        orders.Service
	Subscriptions subscriptions.Service
	Payments      payments.Service
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
}

// NewServices wires the commerce services over one database and Redis client.
func NewServices(p Params) (*Services, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if p.Redis == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}

	conn := p.DB.DB()
	pricing, err := cart.PricingFromConfig(p.Config.Pricing)
	if err != nil {
		return nil, err
	}

	outboxRepo := outbox.NewRepository(conn)
	publisher := outbox.NewService(outboxRepo, p.Logger)

	cartSvc, err := cart.NewService(cart.NewRepository(conn), p.DB, products.NewRepository(conn), pricing, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}
	orderSvc, err := orders.NewService(
		orders.NewRepository(conn),
		p.DB,
		cartSvc,
		inventory.NewLedger(p.Logger),
		orders.NewNumberGenerator(p.Redis),
		publisher,
		p.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              billing.NewRepository(conn),
		TransactionRunner: p.DB,
		Outbox:            publisher,
		Logger:            p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions service: %w", err)
	}
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:              payments.NewRepository(conn),
		TransactionRunner: p.DB,
		Gateway:           p.Gateway,
		Orders:            orderSvc,
		Subscriptions:     subSvc,
		Outbox:            publisher,
		Metrics:           metrics.NewPaymentMetrics(p.Registerer),
		Logger:            p.Logger,
		PollConcurrency:   p.Config.Cron.PollConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	return &Services{
		Cart:          cartSvc,
		Orders:        orderSvc,
		Subscriptions: subSvc,
		Payments:      paymentSvc,
		Outbox:        publisher,
		OutboxRepo:    outboxRepo,
	}, nil
}
