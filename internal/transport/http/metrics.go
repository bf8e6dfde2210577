package httptransport

import "expvar"

var (
	metricAdminTriggersTotal = expvar.NewInt("admin_cleanup_triggers_total")
	metricAdminTriggerErrors = expvar.NewInt("admin_cleanup_trigger_errors_total")
	metricAdminSweepsStarted = expvar.NewInt("admin_sweeps_started_total")
)
