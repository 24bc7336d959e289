package cloudapi

import "time"

// Result is the parsed response body plus metadata.
type Result struct {
	Body     any      `json:"body"     yaml:"body"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// Metadata accompanies every Result.
type Metadata struct {
	Headers Headers     `json:"headers"         yaml:"headers"`
	Code    int         `json:"code"            yaml:"code"`
	Cache   *CacheState `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// CacheState is the cache record computed for the response.
type CacheState struct {
	Key    string      `json:"key"    yaml:"key"`
	Record CacheRecord `json:"record" yaml:"record"`
}

// RoutineStat is the timing of one routine run.
type RoutineStat struct {
	Name      string        `json:"name"       yaml:"name"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	TimeTaken time.Duration `json:"time_taken" yaml:"time_taken"`
}

// StatSession holds the routine timings of one pass over the chain.
type StatSession []RoutineStat

// Stat holds the timings of a call. A retried call has several sessions.
type Stat struct {
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	TimeTaken time.Duration `json:"time_taken" yaml:"time_taken"`
	Sessions  []StatSession `json:"sessions"   yaml:"sessions"`
}
