// Package bootstrap builds the join link a table shows as a QR code or
// writes to an NFC tag, and the secret its join tokens are signed with.
package bootstrap

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/mr-tron/base58"
)

const (
	Scheme = "wepoker"
	host   = "join"

	paramWifiName     = "wifiName"
	paramWifiPassword = "wifiPassword"
	paramServerIP     = "ip"
	paramPort         = "port"
	paramDedicated    = "dedicated"
	paramToken        = "token"
)

var ErrBadJoinURI = errors.New("bad join uri")

// JoinInfo is everything a device needs to find and join a table. Only
// ServerIP, Port and Token matter to the server; the wifi fields let the
// device join the ad-hoc network first.
type JoinInfo struct {
	WifiName     string
	WifiPassword string
	ServerIP     string
	Port         int
	Dedicated    bool
	Token        string
}

// URI renders info as wepoker://join?wifiName=...&ip=...
func (info JoinInfo) URI() string {
	q := url.Values{}
	if info.WifiName != "" {
		q.Set(paramWifiName, info.WifiName)
	}
	if info.WifiPassword != "" {
		q.Set(paramWifiPassword, info.WifiPassword)
	}
	q.Set(paramServerIP, info.ServerIP)
	q.Set(paramPort, strconv.Itoa(info.Port))
	q.Set(paramDedicated, strconv.FormatBool(info.Dedicated))
	if info.Token != "" {
		q.Set(paramToken, info.Token)
	}

	u := url.URL{Scheme: Scheme, Host: host, RawQuery: q.Encode()}
	return u.String()
}

// Addr is the host:port of the table server.
func (info JoinInfo) Addr() string {
	return net.JoinHostPort(info.ServerIP, strconv.Itoa(info.Port))
}

func ParseJoinURI(s string) (JoinInfo, error) {
	u, err := url.Parse(s)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("%w: %v", ErrBadJoinURI, err)
	}
	if u.Scheme != Scheme || u.Host != host {
		return JoinInfo{}, fmt.Errorf("%w: want %s://%s", ErrBadJoinURI, Scheme, host)
	}

	q := u.Query()
	info := JoinInfo{
		WifiName:     q.Get(paramWifiName),
		WifiPassword: q.Get(paramWifiPassword),
		ServerIP:     q.Get(paramServerIP),
		Token:        q.Get(paramToken),
	}
	if net.ParseIP(info.ServerIP) == nil {
		return JoinInfo{}, fmt.Errorf("%w: ip %q", ErrBadJoinURI, info.ServerIP)
	}
	info.Port, err = strconv.Atoi(q.Get(paramPort))
	if err != nil || info.Port <= 0 || info.Port > 65535 {
		return JoinInfo{}, fmt.Errorf("%w: port %q", ErrBadJoinURI, q.Get(paramPort))
	}
	if d := q.Get(paramDedicated); d != "" {
		info.Dedicated, err = strconv.ParseBool(d)
		if err != nil {
			return JoinInfo{}, fmt.Errorf("%w: dedicated %q", ErrBadJoinURI, d)
		}
	}
	return info, nil
}

// NewSecret returns n random bytes for signing join tokens.
func NewSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeSecret renders a secret the way it is configured (TABLE_SECRET).
func EncodeSecret(b []byte) string {
	return base58.Encode(b)
}

func DecodeSecret(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode table secret: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("decode table secret: empty")
	}
	return b, nil
}
