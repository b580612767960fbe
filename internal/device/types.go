package device

import (
	"time"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
)

// Fan is a registered SenseME fan as stored in the fans table.
type Fan struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`

	// LearnedID is the identity the fan reported for itself. Empty until
	// the fan has announced it.
	LearnedID string `json:"learned_id,omitempty"`

	// IdleTimeoutMinutes recycles a silent session; 0 disables it.
	IdleTimeoutMinutes int `json:"idle_timeout_min"`

	// TemperatureUnit is "C", "F" or empty for the bridge default.
	TemperatureUnit string `json:"temperature_unit,omitempty"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceConfig converts the record into what the bridge connects with.
func (f Fan) DeviceConfig() senseme.DeviceConfig {
	port := f.Port
	if port == 0 {
		port = senseme.DefaultPort
	}
	return senseme.DeviceConfig{
		ID:              f.ID,
		Name:            f.Name,
		LearnedID:       f.LearnedID,
		IP:              f.IP,
		Port:            port,
		IdleTimeout:     time.Duration(f.IdleTimeoutMinutes) * time.Minute,
		TemperatureUnit: senseme.TemperatureUnit(f.TemperatureUnit),
	}
}

// HistoryEntry is one recorded attribute change.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	FanID      string    `json:"fan_id"`
	Attribute  string    `json:"attribute"`
	Value      string    `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}
