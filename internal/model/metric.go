package model

// Metric is one key/value pair delivered to the monitoring system. Names are
// dot-namespaced and must match the item keys configured on the Zabbix host.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Batch is an ordered set of metrics produced by one collection cycle.
type Batch []Metric

// Add appends a metric and returns the extended batch.
func (b Batch) Add(name string, value float64) Batch {
	return append(b, Metric{Name: name, Value: value})
}

// Lookup returns the value of the named metric and whether it is present.
func (b Batch) Lookup(name string) (float64, bool) {
	for _, m := range b {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}
