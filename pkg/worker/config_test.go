package worker

import (
	"reflect"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://app.example")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	limits := map[Category]int{
		CategoryStatic:  0,
		CategoryDynamic: 75,
		CategoryAPI:     50,
		CategoryImage:   100,
	}
	for cat, want := range limits {
		if got := cfg.Limit(cat); got != want {
			t.Errorf("Limit(%s) = %d, want %d", cat, got, want)
		}
	}

	want := []string{"static-v1", "dynamic-v1", "api-v1", "image-v1"}
	if got := cfg.StoreNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("StoreNames() = %v, want %v", got, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "relative origin", modify: func(c *Config) { c.Origin = "/app" }},
		{name: "empty version", modify: func(c *Config) { c.Version = "" }},
		{name: "version with hash", modify: func(c *Config) { c.Version = "v#1" }},
		{name: "relative asset", modify: func(c *Config) { c.StaticAssets = append(c.StaticAssets, "offline.html") }},
		{name: "offline page not pre-cached", modify: func(c *Config) { c.OfflinePage = "/missing" }},
		{name: "negative limit", modify: func(c *Config) { c.Limits[CategoryAPI] = -1 }},
		{name: "outbox collides", modify: func(c *Config) { c.OutboxStore = "api-v1" }},
		{name: "no outbox", modify: func(c *Config) { c.OutboxStore = "" }},
		{name: "preserved store collides", modify: func(c *Config) { c.PreservedStores = []string{"static-v1"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("https://app.example")
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}
