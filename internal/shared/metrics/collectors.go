package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors agrupa as métricas de domínio compartilhadas pelos processos de
// rodada. Os componentes não importam este pacote: expõem callbacks que o main
// liga aqui.
type Collectors struct {
	PredictionsPlaced   *prometheus.CounterVec
	PredictionsRejected *prometheus.CounterVec
	RoundsCreated       *prometheus.CounterVec
	RoundsLocked        *prometheus.CounterVec
	RoundsSettled       *prometheus.CounterVec
	SettlementDuration  prometheus.Histogram
	PayoutCents         prometheus.Counter
	SchedulerTicks      *prometheus.CounterVec
	FeedReads           *prometheus.CounterVec
	IngestTicks         *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	EventsFailed        *prometheus.CounterVec
}

// NewCollectors cria e registra as métricas em reg (prometheus.DefaultRegisterer
// nos serviços, um registry novo nos testes).
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		PredictionsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_predictions_placed_total", Help: "previsões aceitas por modo",
		}, []string{"mode"}),
		PredictionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_predictions_rejected_total", Help: "previsões recusadas por motivo",
		}, []string{"reason"}),
		RoundsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_created_total", Help: "rodadas criadas por modo",
		}, []string{"mode"}),
		RoundsLocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_locked_total", Help: "rodadas travadas por modo",
		}, []string{"mode"}),
		RoundsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_settled_total", Help: "rodadas liquidadas por modo e desfecho",
		}, []string{"mode", "outcome"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rounds_settlement_duration_seconds",
			Help:    "duração da transação de liquidação",
			Buckets: prometheus.DefBuckets,
		}),
		PayoutCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rounds_payout_cents_total", Help: "centavos creditados em prêmios e reembolsos",
		}),
		SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_scheduler_ticks_total", Help: "ticks do agendador por resultado",
		}, []string{"result"}),
		FeedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_price_feed_reads_total", Help: "leituras do feed de preço por resultado",
		}, []string{"result"}),
		IngestTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_price_ingest_ticks_total", Help: "ticks recebidos do fornecedor por resultado",
		}, []string{"result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_events_published_total", Help: "eventos entregues por destino",
		}, []string{"sink"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_events_failed_total", Help: "falhas de entrega por destino",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		c.PredictionsPlaced, c.PredictionsRejected,
		c.RoundsCreated, c.RoundsLocked, c.RoundsSettled,
		c.SettlementDuration, c.PayoutCents,
		c.SchedulerTicks, c.FeedReads, c.IngestTicks,
		c.EventsPublished, c.EventsFailed,
	)
	return c
}
