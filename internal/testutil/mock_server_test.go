package testutil

import (
	"bytes"
	"io"
	"net/http"
	"testing"
)

func TestMockServer_BasicDownload(t *testing.T) {
	server := NewMockServerT(t, WithRandomFile("/a.bin", 100*1024))

	resp, err := http.Get(server.URL("/a.bin"))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}

	f, _ := server.File("/a.bin")
	if !bytes.Equal(data, f.Data) {
		t.Errorf("served body does not match registered data")
	}

	stats := server.Stats()
	if stats.TotalRequests != 1 || stats.FullRequests != 1 {
		t.Errorf("Expected 1 full request, got %+v", stats)
	}
}

func TestMockServer_RangeRequest(t *testing.T) {
	server := NewMockServerT(t, WithRandomFile("/a.bin", 4096))

	req, _ := http.NewRequest(http.MethodGet, server.URL("a.bin"), nil)
	req.Header.Set("Range", "bytes=1024-")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("Expected 206, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 1024-4095/4096" {
		t.Errorf("Content-Range = %q", got)
	}

	data, _ := io.ReadAll(resp.Body)
	f, _ := server.File("/a.bin")
	if !bytes.Equal(data, f.Data[1024:]) {
		t.Errorf("range body mismatch, got %d bytes", len(data))
	}
}

func TestMockServer_NoRangeSupport(t *testing.T) {
	server := NewMockServerT(t, WithRandomFile("/a.bin", 2048), WithRangeSupport(false))

	req, _ := http.NewRequest(http.MethodGet, server.URL("/a.bin"), nil)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK || len(data) != 2048 {
		t.Errorf("Expected full 200 response, got %d with %d bytes", resp.StatusCode, len(data))
	}
}

func TestMockServer_Headers(t *testing.T) {
	server := NewMockServerT(t,
		WithFile("/dl", MockFile{Data: []byte("hello"), ContentType: "text/plain", Disposition: "greeting.txt"}),
		WithFile("/raw", MockFile{Data: []byte("x")}),
	)

	resp, err := http.Get(server.URL("/dl"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="greeting.txt"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q", got)
	}

	resp, err = http.Get(server.URL("/raw"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "" {
		t.Errorf("expected no Content-Type, got %q", got)
	}
}

func TestMockServer_NotFound(t *testing.T) {
	server := NewMockServerT(t)

	resp, err := http.Get(server.URL("/missing"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestMockServer_FailOnNthRequest(t *testing.T) {
	server := NewMockServerT(t, WithRandomFile("/a.bin", 10), WithFailOnNthRequest(1))

	resp, err := http.Get(server.URL("/a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("first request: expected 500, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL("/a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second request: expected 200, got %d", resp.StatusCode)
	}
	if server.Stats().FailedRequests != 1 {
		t.Errorf("expected one failed request, got %d", server.Stats().FailedRequests)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header     string
		size       int64
		start, end int64
		wantErr    bool
	}{
		{"bytes=0-499", 1000, 0, 499, false},
		{"bytes=500-", 1000, 500, 999, false},
		{"bytes=-200", 1000, 800, 999, false},
		{"bytes=0-5000", 1000, 0, 999, false},
		{"bytes=900-100", 1000, 0, 0, true},
		{"items=0-1", 1000, 0, 0, true},
		{"bytes=abc-", 1000, 0, 0, true},
	}

	for _, tt := range tests {
		start, end, err := parseRange(tt.header, tt.size)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRange(%q) expected error", tt.header)
			}
			continue
		}
		if err != nil || start != tt.start || end != tt.end {
			t.Errorf("parseRange(%q) = %d, %d, %v; want %d, %d", tt.header, start, end, err, tt.start, tt.end)
		}
	}
}
