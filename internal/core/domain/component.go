package domain

// Device is either the bridge itself or the meter behind it
type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string // bridge device id for the meter
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing (for acc energy)
	DeviceClass       string // current, power, energy, signal_strength
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	ExpireAfter       uint // seconds without a state before the value turns unavailable, 0 disables
}
