package main

import (
	"testing"

	"gradebridge/internal/config"
)

func TestOverrides_PortRespectsConfigFile(t *testing.T) {
	o, err := parseFlags([]string{"-port", "9000", "-dev", "-dataDir", "/srv/gb"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg := config.DefaultConfig()
	o.apply(cfg, config.LoadConfigInfo{PortSpecified: true})
	if cfg.Server.Port != 20261 {
		t.Fatalf("port from config.toml must win, got %d", cfg.Server.Port)
	}
	if !cfg.Server.DevMode || cfg.Data.DataDir != "/srv/gb" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	cfg = config.DefaultConfig()
	o.apply(cfg, config.LoadConfigInfo{})
	if cfg.Server.Port != 9000 {
		t.Fatalf("flag port not applied, got %d", cfg.Server.Port)
	}
}

func TestOverrides_ZeroValueKeepsConfig(t *testing.T) {
	o, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg := config.DefaultConfig()
	o.apply(cfg, config.LoadConfigInfo{})
	if *cfg != *config.DefaultConfig() {
		t.Fatalf("config changed without flags: %+v", cfg)
	}
}

func TestParseFlags_Unknown(t *testing.T) {
	if _, err := parseFlags([]string{"-nope"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}
