package promo

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validCode() Code {
	return Code{Code: "SAVE18", Kind: KindPercent, PercentBps: 1800, Active: true}
}

func TestValidateChain(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	cap5 := int32(5)

	cases := []struct {
		name   string
		mutate func(*Code)
		ok     bool
	}{
		{"valid", func(*Code) {}, true},
		{"inactive", func(c *Code) { c.Active = false }, false},
		{"before window", func(c *Code) { c.StartsAt = &future }, false},
		{"after window", func(c *Code) { c.EndsAt = &past }, false},
		{"within window", func(c *Code) { c.StartsAt = &past; c.EndsAt = &future }, true},
		{"cap reached", func(c *Code) { c.UsageCap = &cap5; c.UsedCount = 5 }, false},
		{"cap open", func(c *Code) { c.UsageCap = &cap5; c.UsedCount = 4 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCode()
			tc.mutate(&c)
			err := c.Validate(now)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrNotApplicable) {
					t.Fatalf("expected ErrNotApplicable, got %v", err)
				}
			}
		})
	}
}

func TestDiscountPercent(t *testing.T) {
	c := validCode()
	// 18% of $15.99 = $2.8782 -> $2.88
	if got := c.Discount(1599); got != 288 {
		t.Fatalf("expected 288, got %d", got)
	}
	if got := c.Discount(0); got != 0 {
		t.Fatalf("zero subtotal must yield zero, got %d", got)
	}
	// A percentage discount can never exceed the subtotal.
	for _, subtotal := range []int64{1, 99, 1599, 100000} {
		if got := c.Discount(subtotal); got > subtotal {
			t.Fatalf("discount %d exceeds subtotal %d", got, subtotal)
		}
	}
}

func TestDiscountFixedCappedAtSubtotal(t *testing.T) {
	c := Code{Code: "TENOFF", Kind: KindFixed, AmountCents: 1000, Active: true}
	if got := c.Discount(2500); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	if got := c.Discount(750); got != 750 {
		t.Fatalf("expected discount capped at subtotal 750, got %d", got)
	}
	c.AmountCents = -5
	if got := c.Discount(750); got != 0 {
		t.Fatalf("negative value clamps to zero, got %d", got)
	}
}

func TestDiscountUnknownKind(t *testing.T) {
	c := Code{Code: "X", Kind: "bogus", Active: true}
	if got := c.Discount(1000); got != 0 {
		t.Fatalf("unknown kind must yield zero, got %d", got)
	}
}
