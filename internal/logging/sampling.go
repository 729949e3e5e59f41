package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore applies the per-level rates in cfg.Levels. Error and above,
// and levels without a configured rate, always pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	sampled := func(l zapcore.Level) bool {
		_, ok := cfg.Levels[l]
		return ok && l < zapcore.ErrorLevel
	}

	cores := []zapcore.Core{
		&levelFilterCore{Core: core, accept: func(l zapcore.Level) bool { return !sampled(l) }},
	}
	for lvl, rate := range cfg.Levels {
		if !sampled(lvl) {
			continue
		}
		only := lvl
		filtered := &levelFilterCore{Core: core, accept: func(l zapcore.Level) bool { return l == only }}
		cores = append(cores, zapcore.NewSamplerWithOptions(filtered, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only the levels accept allows.
type levelFilterCore struct {
	zapcore.Core
	accept func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.accept(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.accept(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), accept: c.accept}
}
