// Package mitigation tracks the observed error rate of the physical hardware
// backend and rewrites circuits to compensate when that rate is too high.
package mitigation
