// Package usage prices backend generation calls and records them in the
// store's usage ledger.
package usage

import "strings"

// Published per-call image prices in USD, keyed by resolution.
var imageCost = map[string]float64{
	"1K": 0.134,
	"2K": 0.134,
	"4K": 0.24,
}

// Published per-second video prices in USD, keyed by resolution and whether
// the provider also renders an audio track.
var videoCost = map[string]float64{
	"720p/audio":   0.40,
	"720p/silent":  0.20,
	"1080p/audio":  0.40,
	"1080p/silent": 0.20,
	"4k/audio":     0.60,
	"4k/silent":    0.40,
}

// ImageCost returns the price of one image call. Unknown resolutions price as
// 2K, the default the backend generates at.
func ImageCost(resolution string) float64 {
	if cost, ok := imageCost[strings.ToUpper(resolution)]; ok {
		return cost
	}
	return imageCost["2K"]
}

// VideoCost returns the price of one video call. Unknown resolutions price as
// 1080p with audio, and a zero duration prices as the provider's 8s default.
func VideoCost(durationSeconds int, resolution string, audio bool) float64 {
	if durationSeconds <= 0 {
		durationSeconds = 8
	}
	key := strings.ToLower(resolution) + "/silent"
	if audio {
		key = strings.ToLower(resolution) + "/audio"
	}
	perSecond, ok := videoCost[key]
	if !ok {
		perSecond = videoCost["1080p/audio"]
	}
	return float64(durationSeconds) * perSecond
}
