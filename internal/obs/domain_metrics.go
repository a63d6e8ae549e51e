package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TotalsComputedTotal counts totals compilations by fulfillment and the
	// discount source that won arbitration.
	TotalsComputedTotal *prometheus.CounterVec
	// AmountMismatchTotal counts finalizations aborted because the captured
	// charge differed from the recomputed total.
	AmountMismatchTotal prometheus.Counter
	// RedemptionTotal counts promo redemption outcomes at finalization.
	RedemptionTotal *prometheus.CounterVec
	// CarrierQuoteFailTotal counts carrier quote calls that fell back to the
	// manual fee formula.
	CarrierQuoteFailTotal prometheus.Counter
	// DispatchFailTotal counts post-payment courier dispatch failures.
	DispatchFailTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TotalsComputedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_totals_total",
			Help:      "Count of totals compilations by fulfillment and winning discount source.",
		}, []string{"fulfillment", "discount_source"})
		AmountMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_amount_mismatch_total",
			Help:      "Finalizations rejected because charged cents differed from computed cents.",
		})
		RedemptionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_redemption_total",
			Help:      "Promo redemption outcomes at order finalization.",
		}, []string{"result"})
		CarrierQuoteFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_carrier_quote_fail_total",
			Help:      "Carrier quote failures that degraded to the manual fee formula.",
		})
		DispatchFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_dispatch_fail_total",
			Help:      "Post-payment courier dispatch failures needing manual handling.",
		})

		mustRegisterCollector(reg, TotalsComputedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TotalsComputedTotal = v
			}
		})
		mustRegisterCollector(reg, AmountMismatchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				AmountMismatchTotal = v
			}
		})
		mustRegisterCollector(reg, RedemptionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RedemptionTotal = v
			}
		})
		mustRegisterCollector(reg, CarrierQuoteFailTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CarrierQuoteFailTotal = v
			}
		})
		mustRegisterCollector(reg, DispatchFailTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DispatchFailTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
