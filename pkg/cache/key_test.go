package cache

import (
	"net/http"
	"testing"
)

func TestRequestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  RequestKey
		want string
	}{
		{
			name: "empty method defaults to GET",
			key:  RequestKey{URL: "https://app.example/"},
			want: "GET https://app.example/",
		},
		{
			name: "method is upper-cased",
			key:  RequestKey{Method: "post", URL: "https://app.example/api/bookings"},
			want: "POST https://app.example/api/bookings",
		},
		{
			name: "query params are sorted",
			key:  RequestKey{URL: "https://app.example/api/boats?type=sail&page=1"},
			want: "GET https://app.example/api/boats?page=1&type=sail",
		},
		{
			name: "fragment is dropped",
			key:  RequestKey{URL: "https://app.example/barcos#reviews"},
			want: "GET https://app.example/barcos",
		},
		{
			name: "discriminator is appended",
			key: RequestKey{
				Method:        http.MethodPost,
				URL:           "https://app.example/api/bookings",
				Discriminator: "3f0c",
			},
			want: "POST https://app.example/api/bookings#3f0c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("RequestKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRequestKey(t *testing.T) {
	tests := []struct {
		name string
		key  RequestKey
		path string
	}{
		{
			name: "with discriminator",
			key: RequestKey{
				Method:        http.MethodDelete,
				URL:           "https://app.example/api/favorites/b1?userId=u1",
				Discriminator: "k-1",
			},
			path: "/api/favorites/b1",
		},
		{
			name: "discriminator containing hashes",
			key: RequestKey{
				Method:        http.MethodPost,
				URL:           "https://app.example/api/bookings",
				Discriminator: "client#42#retry",
			},
			path: "/api/bookings",
		},
		{
			name: "without discriminator",
			key:  RequestKey{Method: http.MethodGet, URL: "https://app.example/api/boats"},
			path: "/api/boats",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequestKey(tt.key.String())
			if err != nil {
				t.Fatalf("ParseRequestKey failed: %v", err)
			}
			if got != tt.key {
				t.Errorf("ParseRequestKey() = %+v, want %+v", got, tt.key)
			}
			if got.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", got.Path(), tt.path)
			}
		})
	}
}

func TestParseRequestKey_Malformed(t *testing.T) {
	for _, s := range []string{"", "GET", " https://app.example/"} {
		if _, err := ParseRequestKey(s); err == nil {
			t.Errorf("ParseRequestKey(%q) should fail", s)
		}
	}
}

func TestKeyForRequest_Determinism(t *testing.T) {
	req1, _ := http.NewRequest(http.MethodGet, "https://app.example/api/boats?b=2&a=1", nil)
	req2, _ := http.NewRequest(http.MethodGet, "https://app.example/api/boats?a=1&b=2", nil)

	if KeyForRequest(req1).String() != KeyForRequest(req2).String() {
		t.Errorf("keys differ: %q vs %q", KeyForRequest(req1), KeyForRequest(req2))
	}
}
