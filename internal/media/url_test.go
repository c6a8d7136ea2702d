package media

import "testing"

func TestIsSupportedURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"canonical", "https://tiktok.com/@user/video/123", true},
		{"www subdomain", "https://www.tiktok.com/@user/video/123", true},
		{"short link", "https://vm.tiktok.com/ZMabc123/", true},
		{"mobile subdomain", "http://m.tiktok.com/v/123.html", true},
		{"mixed case host", "https://WWW.TikTok.com/@user/video/123", true},
		{"leading whitespace", "  https://www.tiktok.com/@user/video/123", true},
		{"other site", "https://example.com/watch?v=123", false},
		{"domain in path", "https://evil.example/tiktok.com/video", false},
		{"domain in query", "https://evil.example/?next=tiktok.com", false},
		{"suffix lookalike", "https://nottiktok.com/video/123", false},
		{"embedded lookalike", "https://tiktok.com.evil.example/video", false},
		{"missing scheme", "www.tiktok.com/@user/video/123", false},
		{"ftp scheme", "ftp://www.tiktok.com/video", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSupportedURL(tc.url); got != tc.want {
				t.Fatalf("IsSupportedURL(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}
