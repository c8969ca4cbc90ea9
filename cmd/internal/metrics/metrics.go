// Package metrics defines lanyard's Prometheus collectors in a standalone
// package to avoid import cycles between the redemption engine, the wallet
// coordinator, and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RedeemOutcomes counts redeem calls by terminal outcome
	// (accepted, already_redeemed, window_closed, unknown_credential).
	RedeemOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lanyard_redeem_outcomes_total",
		Help: "Redeem calls by terminal outcome",
	}, []string{"outcome"})

	// RedeemReplays counts redeem calls answered from a stored
	// idempotency-key match instead of a fresh evaluation.
	RedeemReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lanyard_redeem_idempotent_replays_total",
		Help: "Redeem calls answered by idempotency-key replay",
	})

	// PushJobs counts wallet push notification jobs by result.
	PushJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lanyard_wallet_push_jobs_total",
		Help: "Wallet push notification jobs by result (sent, failed, dropped)",
	}, []string{"result"})

	// WalletRegistrations tracks the number of live wallet registrations.
	WalletRegistrations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lanyard_wallet_registrations",
		Help: "Currently registered (device, pass type, credential) triples",
	})

	// FeedClients tracks connected live-feed websocket clients.
	FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lanyard_feed_clients",
		Help: "Connected live scan feed clients",
	})
)

// Register registers all lanyard collectors on the given registry
// (or the default registry if nil). Double registration is tolerated so
// tests can call this freely.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		RedeemOutcomes,
		RedeemReplays,
		PushJobs,
		WalletRegistrations,
		FeedClients,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
