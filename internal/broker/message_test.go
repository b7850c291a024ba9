package broker

import (
	"strings"
	"testing"
)

func TestEncodeHeartbeat(t *testing.T) {
	body, err := EncodeHeartbeat(1, "web-1")
	if err != nil {
		t.Fatalf("EncodeHeartbeat() error = %v", err)
	}
	want := `{"count":1,"server_name":"WEB-1"}`
	if string(body) != want {
		t.Errorf("EncodeHeartbeat() = %s, want %s", body, want)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  bool
		wantName string
	}{
		{"valid", `{"count":1,"server_name":"web-1"}`, false, "WEB-1"},
		{"already uppercase", `{"count":3,"server_name":"WEB-1"}`, false, "WEB-1"},
		{"invalid json", `{"count":`, true, ""},
		{"not json at all", `hello`, true, ""},
		{"zero count", `{"count":0,"server_name":"web-1"}`, true, ""},
		{"negative count", `{"count":-2,"server_name":"web-1"}`, true, ""},
		{"missing name", `{"count":1}`, true, ""},
		{"blank name", `{"count":1,"server_name":"  "}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hb, err := DecodeHeartbeat([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeHeartbeat(%s) = %+v, want error", tt.body, hb)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeHeartbeat(%s) error = %v", tt.body, err)
			}
			if hb.ServerName != tt.wantName {
				t.Errorf("ServerName = %q, want %q", hb.ServerName, tt.wantName)
			}
		})
	}
}

func TestDecodeRejectsLowercasePassthrough(t *testing.T) {
	hb, err := DecodeHeartbeat([]byte(`{"count":1,"server_name":"Mixed-Case"}`))
	if err != nil {
		t.Fatal(err)
	}
	if hb.ServerName != strings.ToUpper(hb.ServerName) {
		t.Errorf("decoded name %q is not normalized", hb.ServerName)
	}
}
