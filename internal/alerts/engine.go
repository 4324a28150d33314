// Package alerts evaluates a single telemetry reading against the fleet-safety
// thresholds. Evaluation is pure: no I/O and no state between readings.
package alerts

import (
	"fmt"
	"math"
	"strings"
)

const (
	CriticalFuelLiters     = 10.0
	HighTemperatureCelsius = 90.0
	ExcessConsumptionLph   = 15.0

	// Empirical L/h per km/h used when the device reports no consumption rate.
	SpeedConsumptionFactor = 0.08

	LowAutonomyHours    = 1.0
	MediumAutonomyHours = 2.0

	// Delimiter used when alerts are flattened for storage and the wire.
	Delimiter = " | "
)

// Input holds the numeric fields the rules look at. Optional device fields
// are expected to be defaulted to zero by the caller.
type Input struct {
	FuelLevel           float64
	Temperature         float64
	FuelConsumptionRate float64
	Speed               float64
}

// Rule produces at most one alert message for an input.
type Rule struct {
	Name     string
	Evaluate func(in Input) (string, bool)
}

// DefaultRules are evaluated in order; every rule that fires contributes a message.
var DefaultRules = []Rule{
	{
		Name: "critical_fuel",
		Evaluate: func(in Input) (string, bool) {
			if in.FuelLevel < CriticalFuelLiters {
				return fmt.Sprintf("Critical fuel: %.1fL", in.FuelLevel), true
			}
			return "", false
		},
	},
	{
		Name: "high_temperature",
		Evaluate: func(in Input) (string, bool) {
			if in.Temperature > HighTemperatureCelsius {
				return fmt.Sprintf("High temperature: %.1f°C", in.Temperature), true
			}
			return "", false
		},
	},
	{
		Name: "excess_consumption",
		Evaluate: func(in Input) (string, bool) {
			if in.FuelConsumptionRate > ExcessConsumptionLph {
				return fmt.Sprintf("Excess consumption: %.1fL/h", in.FuelConsumptionRate), true
			}
			return "", false
		},
	},
	{
		Name:     "autonomy",
		Evaluate: evaluateAutonomy,
	},
}

// EffectiveConsumption returns the reported consumption rate, or an estimate
// derived from speed when no rate was reported. Zero means no estimate.
func EffectiveConsumption(fuelConsumptionRate, speed float64) float64 {
	if fuelConsumptionRate > 0 {
		return fuelConsumptionRate
	}
	if speed > 0 {
		return speed * SpeedConsumptionFactor
	}
	return 0
}

func evaluateAutonomy(in Input) (string, bool) {
	consumption := EffectiveConsumption(in.FuelConsumptionRate, in.Speed)
	if consumption <= 0 {
		return "", false
	}

	hours := in.FuelLevel / consumption
	minutes := int64(math.Round(hours * 60))
	switch {
	case hours < LowAutonomyHours:
		return fmt.Sprintf("Low autonomy: %d min", minutes), true
	case hours < MediumAutonomyHours:
		return fmt.Sprintf("Medium autonomy: %d min", minutes), true
	default:
		return "", false
	}
}

// Evaluate runs DefaultRules against the reading values.
func Evaluate(fuelLevel, temperature, fuelConsumptionRate, speed float64) []string {
	return EvaluateRules(DefaultRules, Input{
		FuelLevel:           fuelLevel,
		Temperature:         temperature,
		FuelConsumptionRate: fuelConsumptionRate,
		Speed:               speed,
	})
}

// EvaluateRules returns the messages of every rule that fires, in rule order.
func EvaluateRules(rules []Rule, in Input) []string {
	var out []string
	for _, rule := range rules {
		if msg, ok := rule.Evaluate(in); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Join flattens alert messages into the stored alert value. It returns nil
// when there is nothing to report.
func Join(messages []string) *string {
	if len(messages) == 0 {
		return nil
	}
	joined := strings.Join(messages, Delimiter)
	return &joined
}
