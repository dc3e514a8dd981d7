package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics exposes ledger operation counters and pool gauges.
type StakingMetrics struct {
	operations        *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	totalStaked       *prometheus.GaugeVec
	totalWeighted     *prometheus.GaugeVec
	rewardReserve     *prometheus.GaugeVec
	rewardsPaid       *prometheus.CounterVec
	reserveShortfalls *prometheus.CounterVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the process-wide staking collectors registered with the
// default Prometheus registry.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = NewStakingMetrics(prometheus.DefaultRegisterer)
	})
	return stakingRegistry
}

// NewStakingMetrics builds a collector set registered with reg. A nil
// registerer leaves the collectors unregistered.
func NewStakingMetrics(reg prometheus.Registerer) *StakingMetrics {
	m := &StakingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_operations_total",
			Help: "Count of ledger operations by type and outcome code.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "staking_operation_duration_seconds",
			Help:    "Latency of ledger operations including the storage commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "staking_pool_total_staked",
			Help: "Raw stake held by each pool.",
		}, []string{"pool"}),
		totalWeighted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "staking_pool_total_weighted",
			Help: "Weighted stake held by each pool.",
		}, []string{"pool"}),
		rewardReserve: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "staking_pool_reward_reserve",
			Help: "Rewards still available for claims per pool.",
		}, []string{"pool"}),
		rewardsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_rewards_paid_total",
			Help: "Rewards paid out per pool.",
		}, []string{"pool"}),
		reserveShortfalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_reserve_shortfalls_total",
			Help: "Claims rejected because the reward reserve was underfunded.",
		}, []string{"pool"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.operations,
			m.latency,
			m.totalStaked,
			m.totalWeighted,
			m.rewardReserve,
			m.rewardsPaid,
			m.reserveShortfalls,
		)
	}
	return m
}

// ObserveOperation records the outcome and latency of one ledger call.
func (m *StakingMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordPool publishes the pool aggregates after a commit.
func (m *StakingMetrics) RecordPool(pool string, staked, weighted, reserve uint64) {
	if m == nil {
		return
	}
	m.totalStaked.WithLabelValues(pool).Set(float64(staked))
	m.totalWeighted.WithLabelValues(pool).Set(float64(weighted))
	m.rewardReserve.WithLabelValues(pool).Set(float64(reserve))
}

// AddRewardsPaid increments the payout counter.
func (m *StakingMetrics) AddRewardsPaid(pool string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.rewardsPaid.WithLabelValues(pool).Add(float64(amount))
}

// RecordReserveShortfall counts a claim rejected for lack of reserve.
func (m *StakingMetrics) RecordReserveShortfall(pool string) {
	if m == nil {
		return
	}
	m.reserveShortfalls.WithLabelValues(pool).Inc()
}
