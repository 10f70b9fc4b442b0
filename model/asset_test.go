package model

import "testing"

const testIssuer = "GBNZILSTVQZ4R7IKQDGHYGY2QXL5QOFJYQMXPKWRRM5PAV7Y4M67AQUA"

func TestParseAsset(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Asset
		wantErr bool
	}{
		{"native", "native", NativeAsset(), false},
		{"credit", "AQUA:" + testIssuer, Asset{Code: "AQUA", Issuer: testIssuer}, false},
		{"long code", "upvoteAQUA:" + testIssuer, Asset{Code: "upvoteAQUA", Issuer: testIssuer}, false},
		{"missing issuer", "AQUA", Asset{}, true},
		{"empty code", ":" + testIssuer, Asset{}, true},
		{"empty", "", Asset{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAsset(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAsset(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAsset(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAssetRoundTrip(t *testing.T) {
	for _, s := range []string{"native", "AQUA:" + testIssuer} {
		a, err := ParseAsset(s)
		if err != nil {
			t.Fatal(err)
		}
		if a.String() != s {
			t.Errorf("round trip %q = %q", s, a.String())
		}
	}
}

func TestHorizonType(t *testing.T) {
	tests := []struct {
		asset Asset
		want  string
	}{
		{NativeAsset(), "native"},
		{Asset{Code: "AQUA", Issuer: testIssuer}, "credit_alphanum4"},
		{Asset{Code: "upvoteAQUA", Issuer: testIssuer}, "credit_alphanum12"},
	}
	for _, tt := range tests {
		if got := tt.asset.HorizonType(); got != tt.want {
			t.Errorf("%v.HorizonType() = %q, want %q", tt.asset, got, tt.want)
		}
	}
}

func TestShortKey(t *testing.T) {
	if got := ShortKey(testIssuer); got != "GBNZ...AQUA" {
		t.Errorf("ShortKey = %q", got)
	}
	if got := ShortKey("short"); got != "short" {
		t.Errorf("ShortKey(short) = %q", got)
	}
	pool := &AggregatedBribe{MarketKey: testIssuer}
	if got := pool.MemoText(); got != "Bribe: GBNZ...AQUA" {
		t.Errorf("MemoText = %q", got)
	}
}
