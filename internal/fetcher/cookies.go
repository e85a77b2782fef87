package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/quotawatch/internal/config"
)

// CookieSource yields the Cookie header for the remote API.
type CookieSource interface {
	Cookies(ctx context.Context) (string, error)
}

// NewCookieSource builds the source selected in configuration.
func NewCookieSource(cfg config.CookiesConfig) (CookieSource, error) {
	switch cfg.Source {
	case "command":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("cookie command is empty")
		}
		return &CommandSource{Command: cfg.Command}, nil
	case "file":
		return &FileSource{Path: cfg.File, Domain: cfg.Domain}, nil
	case "static", "":
		return StaticSource(cfg.Value), nil
	default:
		return nil, fmt.Errorf("unsupported cookie source: %s", cfg.Source)
	}
}

// CommandSource runs an external helper that prints a Cookie header.
type CommandSource struct {
	Command []string
}

// Cookies runs the helper and returns its trimmed output.
func (s *CommandSource) Cookies(ctx context.Context) (string, error) {
	path, err := exec.LookPath(s.Command[0])
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingDependency, s.Command[0])
	}

	cmd := exec.CommandContext(ctx, path, s.Command[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: helper exited with status %d: %s",
				ErrNoSession, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("run cookie helper: %w", err)
	}

	header := strings.TrimSpace(string(out))
	if header == "" {
		return "", ErrNoSession
	}
	return header, nil
}

// FileSource reads a Netscape cookies.txt export.
type FileSource struct {
	Path   string
	Domain string
	Now    func() time.Time
}

// Cookies returns the unexpired cookies that apply to the domain.
func (s *FileSource) Cookies(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNoSession, s.Path)
		}
		return "", fmt.Errorf("read cookie file: %w", err)
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	header := parseNetscapeCookies(data, s.Domain, now)
	if header == "" {
		return "", fmt.Errorf("%w: no cookies for %s", ErrNoSession, s.Domain)
	}
	return header, nil
}

// parseNetscapeCookies builds a Cookie header from cookies.txt content.
// Fields: domain, include-subdomains, path, secure, expiry, name, value.
func parseNetscapeCookies(data []byte, domain string, now time.Time) string {
	var pairs []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}

		if !domainMatches(fields[0], domain) {
			continue
		}

		if expiry, err := strconv.ParseInt(fields[4], 10, 64); err == nil && expiry > 0 {
			if time.Unix(expiry, 0).Before(now) {
				continue
			}
		}

		pairs = append(pairs, fields[5]+"="+fields[6])
	}
	return strings.Join(pairs, "; ")
}

func domainMatches(cookieDomain, domain string) bool {
	cookieDomain = strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	domain = strings.ToLower(domain)
	return cookieDomain == domain || strings.HasSuffix(domain, "."+cookieDomain)
}

// StaticSource is a Cookie header taken verbatim from configuration.
type StaticSource string

// Cookies returns the configured header.
func (s StaticSource) Cookies(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoSession
	}
	return string(s), nil
}
