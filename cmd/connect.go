package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/harvest-downloader/harvest/internal/core"
)

// ErrNoDaemon is returned when no daemon address is configured and none is
// running locally.
var ErrNoDaemon = errors.New("harvest is not running locally; start it with 'harvest server start' or pass --host (or set HARVEST_HOST)")

func resolveHostTarget() string {
	if host := strings.TrimSpace(globalHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv("HARVEST_HOST"))
}

// resolveTokenForTarget picks the bearer token for target. The local token
// file is only reused for loopback targets.
func resolveTokenForTarget(target string) (string, error) {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv("HARVEST_TOKEN")); token != "" {
		return token, nil
	}
	if isLoopbackHost(hostnameFromTarget(target)) {
		return ensureAuthToken(), nil
	}
	return "", errors.New("no token provided; use --token or set HARVEST_TOKEN")
}

// resolveClient builds a client for the configured daemon, falling back to
// the local port file.
func resolveClient() (*core.Client, error) {
	target := resolveHostTarget()
	if target == "" {
		port := readActivePort()
		if port == 0 {
			return nil, ErrNoDaemon
		}
		target = fmt.Sprintf("127.0.0.1:%d", port)
	}

	baseURL, err := resolveConnectBaseURL(target, false)
	if err != nil {
		return nil, err
	}
	token, err := resolveTokenForTarget(target)
	if err != nil {
		return nil, err
	}
	return core.NewClient(baseURL, token), nil
}

func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
		}
		if u.Host == "" {
			return "", errors.New("invalid target: missing host")
		}
		if u.Scheme == "http" && !allowInsecureHTTP && !isLoopbackHost(u.Hostname()) {
			return "", errors.New("refusing insecure HTTP for non-loopback target; use https://")
		}
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
	}

	scheme := "https"
	if isLoopbackHost(hostnameFromTarget(target)) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, target), nil
}

func hostnameFromTarget(target string) string {
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	return target
}

func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
