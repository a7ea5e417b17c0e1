package main

import (
	"slices"
	"testing"
	"time"

	"github.com/zsiec/pixseq/internal/frames"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"API_ADDR", "H3_ADDR", "HTTP_ADDR", "SRT_ADDR", "MAX_UPLOAD_BYTES", "DEFAULT_FILTER", "JOB_TTL", "CERT_HOSTS"} {
		t.Setenv(k, "")
	}

	c, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if c.apiAddr != ":4444" || c.h3Addr != ":4443" || c.srtAddr != ":6000" || c.httpAddr != "" {
		t.Errorf("addresses = %+v", c)
	}
	if c.defaultFilter != frames.FilterNearest {
		t.Errorf("filter = %v, want nearest", c.defaultFilter)
	}
	if c.jobTTL != time.Hour {
		t.Errorf("jobTTL = %v, want 1h", c.jobTTL)
	}
	if c.certHosts != nil {
		t.Errorf("certHosts = %v, want none", c.certHosts)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("DEFAULT_FILTER", "lanczos")
	t.Setenv("JOB_TTL", "5m")
	t.Setenv("CERT_HOSTS", "pixseq.local, 10.0.0.7,")

	c, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if c.httpAddr != ":8080" || c.maxUploadBytes != 1024 {
		t.Errorf("config = %+v", c)
	}
	if c.defaultFilter != frames.FilterLanczos {
		t.Errorf("filter = %v, want lanczos", c.defaultFilter)
	}
	if c.jobTTL != 5*time.Minute {
		t.Errorf("jobTTL = %v", c.jobTTL)
	}
	if want := []string{"pixseq.local", "10.0.0.7"}; !slices.Equal(c.certHosts, want) {
		t.Errorf("certHosts = %v, want %v", c.certHosts, want)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_UPLOAD_BYTES", "lots"},
		{"MAX_UPLOAD_BYTES", "-1"},
		{"DEFAULT_FILTER", "sinc"},
		{"JOB_TTL", "forever"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("loadConfig with %s=%q should fail", tc.key, tc.value)
			}
		})
	}
}
