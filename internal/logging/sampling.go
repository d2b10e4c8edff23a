package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below error level. Errors always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errorCore := &levelFilterCore{Core: core, minLevel: zapcore.ErrorLevel, hasMin: true}
	belowError := &levelFilterCore{Core: core, maxLevel: zapcore.WarnLevel, hasMax: true}

	sampled := zapcore.NewSamplerWithOptions(belowError, cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter)
	return zapcore.NewTee(errorCore, sampled)
}

// levelFilterCore restricts a core to a level range.
type levelFilterCore struct {
	zapcore.Core
	minLevel, maxLevel zapcore.Level
	hasMin, hasMax     bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.minLevel {
		return false
	}
	if c.hasMax && lvl > c.maxLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
		hasMin:   c.hasMin,
		hasMax:   c.hasMax,
	}
}
