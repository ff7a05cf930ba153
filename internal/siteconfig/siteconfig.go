// Package siteconfig parses the monitor's office-list configuration
// source (spec §6) and computes the stable per-office content hash the
// reconciler uses to detect changes (spec §4.4 step 1).
//
// The teacher never parses YAML; this format and the gopkg.in/yaml.v3
// dependency are adopted from the sonobuoy example repo, the only pack
// member that exercises a YAML library end to end.
package siteconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OfficeSpec is one entry in the offices list.
type OfficeSpec struct {
	Name          string `yaml:"name"`
	GatewayIP     string `yaml:"gateway_ip"`
	MXIP          string `yaml:"mx_ip"`
	TunnelProbeIP string `yaml:"tunnel_probe_ip"`
	RetriesDown   int    `yaml:"retries_down"`
	RetriesUp     int    `yaml:"retries_up"`
}

// Document is the top-level configuration snapshot (spec §6).
type Document struct {
	IntervalSeconds  int          `yaml:"interval_seconds"`
	TimeoutMS        int          `yaml:"timeout_ms"`
	BroadcastSeconds int          `yaml:"broadcast_seconds"`
	Offices          []OfficeSpec `yaml:"offices"`
}

const (
	DefaultIntervalSeconds  = 5
	DefaultTimeoutMS        = 900
	DefaultBroadcastSeconds = 15
)

// applyDefaults fills in the top-level defaults spec §6 names.
func (d *Document) applyDefaults() {
	if d.IntervalSeconds <= 0 {
		d.IntervalSeconds = DefaultIntervalSeconds
	}
	if d.TimeoutMS <= 0 {
		d.TimeoutMS = DefaultTimeoutMS
	}
	if d.BroadcastSeconds <= 0 {
		d.BroadcastSeconds = DefaultBroadcastSeconds
	}
}

// Interval returns the configured probe cadence as a Duration.
func (d Document) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Timeout returns the configured per-probe budget as a Duration.
func (d Document) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// Broadcast returns the configured tick cadence as a Duration.
func (d Document) Broadcast() time.Duration {
	return time.Duration(d.BroadcastSeconds) * time.Second
}

// ErrParse wraps a malformed-document failure; the caller (the
// reconciler) logs it and keeps the previous good snapshot in force
// (spec §7, ConfigParseError).
type ErrParse struct {
	Path string
	Err  error
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("siteconfig: parse %s: %v", e.Path, e.Err)
}

func (e *ErrParse) Unwrap() error { return e.Err }

// Load reads and parses path, applying top-level defaults. Office-level
// retry-threshold defaults are applied by the caller (the store and the
// reconciler), not here, so that a zero value observed by the hashing
// step in spec §4.4 step 1 still participates consistently.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, &ErrParse{Path: path, Err: err}
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, &ErrParse{Path: path, Err: err}
	}
	for i := range doc.Offices {
		doc.Offices[i].Name = strings.TrimSpace(doc.Offices[i].Name)
	}
	doc.applyDefaults()
	return doc, nil
}

// ModTime returns the configuration source's modification indicator,
// used by the reconciler's polling loop to decide whether to reload
// (spec §4.4 "Polling").
func ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Hash computes the stable content hash spec §4.4 step 1 defines, over
// (name, gateway_ip, mx_ip, tunnel_probe_ip, retries_down, retries_up).
func (o OfficeSpec) Hash() string {
	rd, ru := o.effectiveRetries()
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00%d",
		o.Name, o.GatewayIP, o.MXIP, o.TunnelProbeIP, rd, ru)
	return hex.EncodeToString(h.Sum(nil))
}

// effectiveRetries applies the office upsert defaults (spec §4.6) so
// that an omitted retries_* field hashes identically to an explicit
// default value.
func (o OfficeSpec) effectiveRetries() (retriesDown, retriesUp int) {
	rd := o.RetriesDown
	if rd <= 0 {
		rd = defaultRetriesDown
	}
	ru := o.RetriesUp
	if ru <= 0 {
		ru = defaultRetriesUp
	}
	return rd, ru
}

const (
	defaultRetriesDown = 2
	defaultRetriesUp   = 1
)

// EffectiveRetries exposes the same default-filled thresholds to callers
// outside this package (the reconciler, the ingest client).
func (o OfficeSpec) EffectiveRetries() (retriesDown, retriesUp int) {
	return o.effectiveRetries()
}
