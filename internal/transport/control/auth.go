package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	HeaderAgentID   = "x-agent-id"
	HeaderTS        = "x-ts"
	HeaderSignature = "x-signature"
	HeaderNonce     = "x-nonce"
)

// SkewWindow bounds how far x-ts may drift from the server clock.
const SkewWindow = 5 * time.Minute

func canonicalString(ts, method, pathname, agentID, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(agentID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign sets the auth headers on r for body. The nonce must be fresh per request.
func Sign(r *http.Request, secret []byte, agentID, nonce string, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	r.Header.Set(HeaderAgentID, agentID)
	r.Header.Set(HeaderTS, ts)
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, signHMAC(secret, canonicalString(ts, r.Method, r.URL.Path, agentID, nonce, body)))
}

type verifyResult struct {
	Caller     string
	Signature  string
	HTTPStatus int
	Message    string
}

func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, now time.Time) verifyResult {
	agentID := strings.TrimSpace(r.Header.Get(HeaderAgentID))
	if agentID == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-agent-id"}
	}
	tsStr := strings.TrimSpace(r.Header.Get(HeaderTS))
	if tsStr == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-ts"}
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if sig == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-signature"}
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-nonce"}
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad x-ts"}
	}
	if d := now.UnixMilli() - tsMS; d > SkewWindow.Milliseconds() || d < -SkewWindow.Milliseconds() {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "x-ts outside window"}
	}

	exp := signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, agentID, nonce, rawBody))
	if !hmac.Equal([]byte(sig), []byte(exp)) {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad signature"}
	}
	return verifyResult{Caller: agentID, Signature: sig}
}

// replayGuard remembers accepted signatures until they can no longer pass the skew check.
type replayGuard struct {
	seen *cache.Cache
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * SkewWindow
	}
	return &replayGuard{seen: cache.New(ttl, ttl/2)}
}

func (g *replayGuard) allow(caller, signature string) bool {
	if g == nil || signature == "" {
		return true
	}
	return g.seen.Add(caller+"|"+signature, struct{}{}, cache.DefaultExpiration) == nil
}

func requireLoopback(r *http.Request) error {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("forbidden: non-loopback client")
}
