package credentials

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

const (
	DefaultTokensFile  = "tokens.txt"
	DefaultProxiesFile = "proxies.txt"
)

type Loader struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger, now: time.Now}
}

// LoadTokens reads one bearer token per line. A missing, unreadable or empty
// file is an error the caller treats as fatal.
func (l *Loader) LoadTokens(path string) ([]domain.Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: tokens file %s: %v", domain.ErrNoTokens, path, err)
	}
	defer f.Close()

	lines, err := readLines(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens from %s: %w", path, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrNoTokens, path)
	}

	creds := make([]domain.Credential, 0, len(lines))
	for _, token := range lines {
		cred := domain.Credential{
			Token:       token,
			Fingerprint: Fingerprint(token),
			ExpiresAt:   tokenExpiry(token),
		}
		if cred.Expired(l.now()) {
			l.logger.Warn().
				Str("token", cred.Fingerprint).
				Time("expired_at", *cred.ExpiresAt).
				Msg("Token looks expired, the API will probably reject it")
		}
		creds = append(creds, cred)
	}

	l.logger.Info().Int("count", len(creds)).Str("file", path).Msg("Loaded tokens")
	return creds, nil
}

// LoadProxies never fails: problems are logged and the bot runs without proxies.
func (l *Loader) LoadProxies(path string, enabled bool) []string {
	if !enabled {
		l.logger.Info().Msg("Proxy usage disabled in config. Running without proxies.")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Warn().Str("file", path).Msg("Proxies file not found. Running without proxies.")
		} else {
			l.logger.Warn().Err(err).Str("file", path).Msg("Failed to open proxies. Running without proxies.")
		}
		return nil
	}
	defer f.Close()

	proxies, err := readLines(f)
	if err != nil {
		l.logger.Warn().Err(err).Str("file", path).Msg("Failed to load proxies. Running without proxies.")
		return nil
	}
	if len(proxies) == 0 {
		l.logger.Warn().Str("file", path).Msg("No proxies found. Running without proxies.")
		return nil
	}

	l.logger.Info().Int("count", len(proxies)).Str("file", path).Msg("Loaded proxies")
	return proxies
}

// Fingerprint is a short stable identifier for a token, safe to log.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}

// tokenExpiry returns the exp claim when token is a JWT. The signature is
// not verified: the bot does not own the signing key.
func tokenExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
