package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		creditsTotal,
		insufficientCreditBlocks,
		purchasesTotal,
	)
}

var (
	creditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exremover_credits_total",
			Help: "Credits moved by ledger operation (reserve, refund, grant, bonus).",
		},
		[]string{"op"},
	)

	insufficientCreditBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exremover_insufficient_credit_blocks_total",
			Help: "Runs or re-fixes rejected because the balance was too low.",
		},
	)

	purchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exremover_purchases_total",
			Help: "Credit purchases by stage.",
		},
		[]string{"stage"}, // 'started', 'confirmed'
	)
)

func AddCredits(op string, amount int64) {
	creditsTotal.WithLabelValues(norm(op)).Add(float64(amount))
}

func IncInsufficientCredits() {
	insufficientCreditBlocks.Inc()
}

func IncPurchase(stage string) {
	purchasesTotal.WithLabelValues(norm(stage)).Inc()
}
