package multiadc

import (
	"github.com/usnistgov/multiadc/internal/metrics"
)

const (
	engineSubsystem   = "engine"
	consumerSubsystem = "consumer"
)

var (
	// Transfer events raised by the converter block, per region kind
	transferEventsTotal = metrics.MustRegisterCounterVec(engineSubsystem,
		"transfer_events_total",
		"Number of half and full transfer events",
		"kind")
	halfEventsTotal = transferEventsTotal.WithLabelValues("half")
	fullEventsTotal = transferEventsTotal.WithLabelValues("full")

	// Hardware faults raised by the converter block
	faultsTotal = metrics.MustRegisterCounter(engineSubsystem,
		"faults_total",
		"Number of hardware faults raised while acquiring")

	// Current engine state (0=Idle, 1=Configured, 2=Running, 3=Stopping)
	engineStateGauge = metrics.MustRegisterGauge(engineSubsystem,
		"state",
		"Current engine state (0=Idle, 1=Configured, 2=Running, 3=Stopping)")

	// Consumer metrics
	regionsReportedTotal = metrics.MustRegisterCounter(consumerSubsystem,
		"regions_reported_total",
		"Number of buffer regions forwarded to the reporter")
	regionsLostTotal = metrics.MustRegisterCounter(consumerSubsystem,
		"regions_lost_total",
		"Number of buffer regions lost to overruns")
	reportErrorsTotal = metrics.MustRegisterCounter(consumerSubsystem,
		"report_errors_total",
		"Number of failed reports")
	droppedFaultsTotal = metrics.MustRegisterCounter(consumerSubsystem,
		"dropped_faults_total",
		"Number of fault notifications dropped because the queue was full")
)
