package gateway

// MonitorContext is an opaque value a Monitor threads from Start to End.
type MonitorContext any

// Monitor is an optional hook invoked around upstream execution. It is
// consumed, not implemented, by the gateway; external run-monitoring systems
// plug in here.
type Monitor interface {
	Start(corrID, agentID, tool, action string, params map[string]any) MonitorContext
	End(mc MonitorContext, result any, err error)
}

type nopMonitor struct{}

func (nopMonitor) Start(string, string, string, string, map[string]any) MonitorContext { return nil }
func (nopMonitor) End(MonitorContext, any, error)                                      {}
