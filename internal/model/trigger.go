package model

// TriggerState is a named alert control mirrored onto the monitoring system.
// Value carries a numeric threshold/payload and is meaningful only while the
// trigger is enabled; disabling a trigger zeroes it.
type TriggerState struct {
	Name     string  `json:"name"`
	Enabled  bool    `json:"state"`
	Value    float64 `json:"value"`
	ZabbixID string  `json:"zabbixId"`
}

// Apply sets the enabled flag and value, enforcing the zero-when-disabled
// invariant.
func (t *TriggerState) Apply(enable bool, value float64) {
	t.Enabled = enable
	if enable {
		t.Value = value
	} else {
		t.Value = 0
	}
}
