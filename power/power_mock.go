package power

import (
	"context"
	"time"
)

// Monitor is implemented by anything reporting power measurements.
type Monitor interface {
	BusVoltage(ctx context.Context) (float64, error)
	ShuntVoltage(ctx context.Context) (float64, error)
	Current(ctx context.Context) (float64, error)
	Power(ctx context.Context) (float64, error)
	Resistance(ctx context.Context) (float64, error)
	Measure(ctx context.Context) (Measurement, error)
	IsConnected(ctx context.Context) (bool, error)
}

var (
	_ Monitor = &INA226{}
	_ Monitor = &MockPowerSensor{}
)

// PowerBehaviorFunc produces the measurement a mock reports.
type PowerBehaviorFunc func(ctx context.Context) (Measurement, error)

// MockPowerSensor is a Monitor driven by a behavior function, usable without
// any hardware.
//
// Example usage:
//
//	// Static load
//	sensor := NewMockPowerSensor(func(ctx context.Context) (Measurement, error) {
//		return Measurement{BusVoltage: 5, Current: 250}, nil
//	})
//
//	// Error simulation
//	sensor := NewMockPowerSensor(func(ctx context.Context) (Measurement, error) {
//		return Measurement{}, fmt.Errorf("sensor malfunction")
//	})
type MockPowerSensor struct {
	behavior PowerBehaviorFunc
}

func NewMockPowerSensor(behavior PowerBehaviorFunc) *MockPowerSensor {
	return &MockPowerSensor{behavior: behavior}
}

// Measure calls the behavior function. Power and resistance are derived when
// the behavior leaves them empty.
func (m *MockPowerSensor) Measure(ctx context.Context) (Measurement, error) {
	meas, err := m.behavior(ctx)
	if err != nil {
		return meas, err
	}
	if meas.Power == 0 {
		meas.Power = round(meas.BusVoltage*meas.Current, 2)
	}
	if meas.Resistance == 0 {
		meas.Resistance = ResistanceFrom(meas.BusVoltage, meas.Current)
	}
	if meas.Time.IsZero() {
		meas.Time = time.Now()
	}
	return meas, nil
}

func (m *MockPowerSensor) BusVoltage(ctx context.Context) (float64, error) {
	meas, err := m.Measure(ctx)
	return meas.BusVoltage, err
}

func (m *MockPowerSensor) ShuntVoltage(ctx context.Context) (float64, error) {
	meas, err := m.Measure(ctx)
	return meas.ShuntVoltage, err
}

func (m *MockPowerSensor) Current(ctx context.Context) (float64, error) {
	meas, err := m.Measure(ctx)
	return meas.Current, err
}

func (m *MockPowerSensor) Power(ctx context.Context) (float64, error) {
	meas, err := m.Measure(ctx)
	return meas.Power, err
}

func (m *MockPowerSensor) Resistance(ctx context.Context) (float64, error) {
	meas, err := m.Measure(ctx)
	return meas.Resistance, err
}

// IsConnected reports false when the behavior returns an error.
func (m *MockPowerSensor) IsConnected(ctx context.Context) (bool, error) {
	_, err := m.behavior(ctx)
	return err == nil, nil
}
