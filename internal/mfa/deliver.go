package mfa

import (
	"context"
	"time"
)

// Delivery is a code on its way to the user.
type Delivery struct {
	ChallengeID string
	UserID      string
	Phone       string
	Code        string
	ExpiresAt   time.Time
}

// Deliverer hands a login code to the user out of band.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, d Delivery) error

func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }
