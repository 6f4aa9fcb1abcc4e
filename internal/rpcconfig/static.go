package rpcconfig

import (
	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

// IntervalUnits are the accepted values for rpc-logs-interval-unit, matching
// Python's TimedRotatingFileHandler `when` parameter subset this framework
// exposes.
var IntervalUnits = []string{"S", "M", "H", "D", "W0", "W1", "W2", "W3", "W4", "W5", "W6", "midnight"}

func validateIntervalUnit(v string) error {
	for _, u := range IntervalUnits {
		if u == v {
			return nil
		}
	}
	return rpcerr.Newf(rpcapi.ErrorParamInvalid, "invalid rpc-logs-interval-unit %q", v)
}

// RegisterFrameworkDefaults declares every host-level (KindStatic) config
// item the framework itself needs, mirroring RpcStaticConfig in the original
// implementation. Call this once before Engine.Load, ahead of any
// manager-specific items.
func RegisterFrameworkDefaults(e *Engine) error {
	items := []Item{
		{Name: "rpc-max-workers", Kind: KindStatic, Validator: rpcapi.ValidatorPosInt, HardCodedDefault: "30"},
		{Name: "rpc-shutdown-grace", Kind: KindStatic, Validator: rpcapi.ValidatorPosFloat, HardCodedDefault: "30"},
		{Name: "rpc-shutdown-timeout", Kind: KindStatic, Validator: rpcapi.ValidatorPosFloat, HardCodedDefault: "60"},
		{Name: "rpc-logs-folder", Kind: KindStatic, Validator: rpcapi.ValidatorString, HardCodedDefault: "logs", CanBeEmpty: true},
		{Name: "rpc-logs-backup", Kind: KindStatic, Validator: rpcapi.ValidatorInt, HardCodedDefault: "10"},
		{Name: "rpc-logs-interval-unit", Kind: KindStatic, Validator: rpcapi.ValidatorCustom, Custom: validateIntervalUnit, HardCodedDefault: "H"},
		{Name: "rpc-logs-interval", Kind: KindStatic, Validator: rpcapi.ValidatorPosInt, HardCodedDefault: "1"},
		{Name: "rpc-main-host", Kind: KindStatic, Validator: rpcapi.ValidatorString, HardCodedDefault: "localhost"},
		{Name: "rpc-main-port", Kind: KindStatic, Validator: rpcapi.ValidatorPosInt, HardCodedDefault: "54321"},
		{Name: "rpc-client-timeout", Kind: KindStatic, Validator: rpcapi.ValidatorPosFloat, HardCodedDefault: "60"},
		{Name: "event-retain-timeout", Kind: KindStatic, Validator: rpcapi.ValidatorPosFloat, HardCodedDefault: "300"},
		{Name: "event-keepalive-timeout", Kind: KindStatic, Validator: rpcapi.ValidatorPosFloat, HardCodedDefault: "30"},
	}
	for _, it := range items {
		if err := e.Register(it); err != nil {
			return err
		}
	}
	return nil
}
