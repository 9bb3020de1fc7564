package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// ResolveValue handles the indirections allowed in secret-bearing fields:
// - op://vault/item/field -> 1Password secret (via `op read`)
// - srv://record/path -> DNS SRV lookup + path (always HTTPS)
// - $(...) -> shell command output
// - ${VAR} or $VAR -> environment variable
// - anything else is returned as-is
func ResolveValue(ctx context.Context, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	switch {
	case strings.HasPrefix(value, "op://"):
		return resolveOnePassword(ctx, value)
	case strings.HasPrefix(value, "srv://"):
		return resolveSRV(ctx, value)
	case strings.HasPrefix(value, "$(") && strings.HasSuffix(value, ")"):
		return resolveCommand(ctx, value[2:len(value)-1])
	default:
		return expandEnv(value), nil
	}
}

// envKeys are consulted when a provider has no api_key of its own.
var envKeys = map[ProviderType]string{
	ProviderTypeOpenAI:    "OPENAI_API_KEY",
	ProviderTypeAnthropic: "ANTHROPIC_API_KEY",
	ProviderTypeGemini:    "GEMINI_API_KEY",
}

// ResolveProvider returns pc with its api_key and base_url resolved.
func ResolveProvider(ctx context.Context, pc ProviderConfig) (ProviderConfig, error) {
	key, err := ResolveValue(ctx, pc.APIKey)
	if err != nil {
		return pc, fmt.Errorf("resolve api_key: %w", err)
	}
	if key == "" {
		if env, ok := envKeys[pc.Type]; ok {
			key = os.Getenv(env)
		}
	}
	pc.APIKey = key

	base, err := ResolveValue(ctx, pc.BaseURL)
	if err != nil {
		return pc, fmt.Errorf("resolve base_url: %w", err)
	}
	pc.BaseURL = strings.TrimRight(base, "/")
	return pc, nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// resolveOnePassword reads op://vault/item/field, honouring an optional
// ?account= query parameter.
func resolveOnePassword(ctx context.Context, opURL string) (string, error) {
	u, err := url.Parse(opURL)
	if err != nil {
		return "", fmt.Errorf("1password: invalid URL %s: %w", opURL, err)
	}
	cleanURL := fmt.Sprintf("op://%s%s", u.Host, u.Path)
	args := []string{"read", cleanURL}
	if account := u.Query().Get("account"); account != "" {
		args = append(args, "--account", account)
	}

	output, err := exec.CommandContext(ctx, "op", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("1password: failed to read %s: %s", cleanURL, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("1password: failed to read %s: %w", cleanURL, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// resolveSRV turns srv://_service._proto.domain/path into
// https://host:port/path using the first SRV record.
func resolveSRV(ctx context.Context, srvURL string) (string, error) {
	u, err := url.Parse(srvURL)
	if err != nil {
		return "", fmt.Errorf("invalid srv:// URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("srv:// URL missing host: %s", srvURL)
	}

	_, addrs, err := net.DefaultResolver.LookupSRV(ctx, "", "", u.Host)
	if err != nil {
		return "", fmt.Errorf("SRV lookup failed for %s: %w", u.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no SRV records found for %s", u.Host)
	}
	host := strings.TrimSuffix(addrs[0].Target, ".")
	return fmt.Sprintf("https://%s:%d%s", host, addrs[0].Port, u.Path), nil
}

func resolveCommand(ctx context.Context, cmd string) (string, error) {
	output, err := exec.CommandContext(ctx, "sh", "-c", cmd).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("command failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("command failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
