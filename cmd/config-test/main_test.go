package main

import (
	"testing"

	"github.com/chrissnell/alphastep/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestValidateProfiles(t *testing.T) {
	cfg := &config.ConfigData{
		Analysis: config.AnalysisData{DT: 0.01},
		Profiles: map[string]config.AnalysisData{
			"ok":  {DetectionWindow: 10},
			"bad": {Smoothing: config.SmoothingData{Method: "wavelet"}},
		},
	}
	assert.Equal(t, 1, validateProfiles(cfg))
}

func TestCompareConfigs(t *testing.T) {
	a := &config.ConfigData{
		Analysis: config.AnalysisData{DT: 0.01},
		Profiles: map[string]config.AnalysisData{"fast": {Schedule: []int{100}}},
		Server:   config.ServerData{Port: 8080},
	}
	b := &config.ConfigData{
		Analysis: config.AnalysisData{DT: 0.01},
		Profiles: map[string]config.AnalysisData{"fast": {Schedule: []int{100}}},
		Server:   config.ServerData{Port: 8080},
	}
	assert.Empty(t, compareConfigs(a, b))

	b.Server.Port = 9090
	b.Profiles["slow"] = config.AnalysisData{}
	assert.Equal(t, []string{"profile slow", "server"}, compareConfigs(a, b))
}

func TestProfileNames(t *testing.T) {
	cfg := &config.ConfigData{Profiles: map[string]config.AnalysisData{"b": {}, "a": {}}}
	assert.Equal(t, []string{config.DefaultProfile, "a", "b"}, profileNames(cfg))
}
