package main

import (
	"testing"
	"time"
)

func TestResolveLedgerDriver(t *testing.T) {
	cases := []struct {
		name    string
		flag    string
		dsn     string
		redis   string
		want    string
		wantErr bool
	}{
		{"explicit postgres", "postgres", "postgres://localhost/app", "", "postgres", false},
		{"explicit postgres without dsn", "postgres", "", "", "", true},
		{"explicit redis", "redis", "", "localhost:6379", "redis", false},
		{"explicit redis without addr", "redis", "", "", "", true},
		{"explicit memory", "memory", "", "", "memory", false},
		{"unknown driver", "etcd", "", "", "", true},
		{"inferred postgres", "", "postgres://localhost/app", "", "postgres", false},
		{"inferred redis", "", "", "localhost:6379", "redis", false},
		{"postgres wins over redis", "", "postgres://localhost/app", "localhost:6379", "postgres", false},
		{"default memory", "", "", "", "memory", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveLedgerDriver(tc.flag, tc.dsn, tc.redis)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveLedgerDriver: %v", err)
			}
			if got != tc.want {
				t.Fatalf("driver = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "later"); got != "value" {
		t.Fatalf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("firstNonEmpty = %q, want empty", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitAndTrim = %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveDurationFallback(t *testing.T) {
	if got := resolveDuration(0, "THEVIDEO_TEST_UNSET_DURATION", 10*time.Minute); got != 10*time.Minute {
		t.Fatalf("resolveDuration = %v", got)
	}
	if got := resolveDuration(time.Second, "THEVIDEO_TEST_UNSET_DURATION", 10*time.Minute); got != time.Second {
		t.Fatalf("flag must win, got %v", got)
	}
}
