// Package metrics объявляет счетчики Prometheus для наблюдения за
// жизненным циклом подписок и внешними вызовами справочника.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsTotal количество запусков проверки подписок по типу запуска.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_sweeps_total",
		Help: "Number of reconciliation sweeps executed.",
	}, []string{"kind"})

	// SubscriptionsExpiredTotal количество подписок, переведенных в expired.
	SubscriptionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_subscriptions_expired_total",
		Help: "Number of subscriptions transitioned to expired.",
	})

	// GrantsTotal количество операций выдачи доступа по результату.
	GrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_grants_total",
		Help: "Number of membership grant operations by result.",
	}, []string{"result"})

	// RevokesTotal количество операций отзыва доступа по результату.
	RevokesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_revokes_total",
		Help: "Number of membership revoke operations by result.",
	}, []string{"result"})

	// PaymentEventsTotal количество обработанных событий оплаты по исходу.
	PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_payment_events_total",
		Help: "Number of processed payment events by outcome.",
	}, []string{"outcome"})
)
